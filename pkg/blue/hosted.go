package blue

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/r9s-ai/paypoint-blue/pkg/payload"
	"github.com/r9s-ai/paypoint-blue/pkg/pipeline"
)

// HostedEndpoints resolves the named endpoints of the Hosted product.
var HostedEndpoints = map[string]string{
	EndpointTest: "https://hosted.mite.paypoint.net/hosted/rest",
	EndpointLive: "https://hosted.paypoint.net/hosted/rest",
}

// HostedShortcuts are the payload aliases accepted by Hosted operations.
var HostedShortcuts = payload.Shortcuts{
	"merchant_ref":  "transaction.merchant_reference",
	"amount":        "transaction.money.amount.fixed",
	"currency":      "transaction.money.currency",
	"description":   "transaction.description",
	"customer_ref":  "customer.identity.merchant_customer_id",
	"customer_name": "customer.details.name",
	"return_url":    "session.return_url.url",
	"cancel_url":    "session.cancel_url.url",
	"restore_url":   "session.restore_url.url",
	"skin":          "session.skin",

	"pre_auth_callback":        "session.pre_auth_callback.url",
	"post_auth_callback":       "session.post_auth_callback.url",
	"transaction_notification": "session.transaction_notification.url",
}

// HostedDelegates names the API operations a Hosted client forwards to its
// API client.
var HostedDelegates = []string{
	"CaptureAuthorisation",
	"CancelAuthorisation",
	"Transaction",
	"TransactionsByRef",
	"RefundPayment",
	"Customer",
	"CustomerByRef",
	"CustomerPaymentMethods",
	"CustomerPaymentMethod",
}

var (
	hostedPaymentDefaults = []string{
		"currency", "return_url", "cancel_url", "restore_url", "skin",
		"pre_auth_callback", "post_auth_callback", "transaction_notification",
	}
	hostedCardsDefaults = []string{"return_url", "restore_url", "skin"}
)

const skinContentType = "application/zip"

// Hosted is the hosted payment page client. It is safe for concurrent use.
type Hosted struct {
	*client
	api *API
}

// NewHosted builds a Hosted client and the API client it forwards
// transaction and customer queries to.
func NewHosted(o Options) (*Hosted, error) {
	o, err := o.withEnv()
	if err != nil {
		return nil, err
	}
	c, err := newClient(o, HostedEndpoints, HostedShortcuts)
	if err != nil {
		return nil, err
	}
	apiOpts := o
	if o.APIEndpoint != "" {
		apiOpts.Endpoint = o.APIEndpoint
	}
	api, err := NewAPI(apiOpts)
	if err != nil {
		return nil, err
	}
	return &Hosted{client: c, api: api}, nil
}

// API returns the client used for forwarded operations.
func (h *Hosted) API() *API { return h.api }

// Ping reports whether the hosted gateway answers. A gateway error is
// reported as false with a nil error.
func (h *Hosted) Ping(ctx context.Context) (bool, error) {
	return h.ping(ctx, h.target(nil, "sessions", "ping"))
}

// MakePayment starts a hosted payment session. The response carries the
// redirect_url to send the customer to.
func (h *Hosted) MakePayment(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	return h.post(ctx, h.target(nil, "sessions", h.instID, "payments"), p, hostedPaymentDefaults...)
}

func (h *Hosted) SubmitAuthorisation(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	p, err := withDeferred(p)
	if err != nil {
		return nil, err
	}
	return h.MakePayment(ctx, p)
}

func (h *Hosted) SubmitPayout(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	return h.post(ctx, h.target(nil, "sessions", h.instID, "payouts"), p, hostedPaymentDefaults...)
}

// ManageCards starts a session in which the customer maintains stored
// cards.
func (h *Hosted) ManageCards(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	return h.post(ctx, h.target(nil, "sessions", h.instID, "cards"), p, hostedCardsDefaults...)
}

func (h *Hosted) Skins(ctx context.Context) (*pipeline.Response, error) {
	return h.get(ctx, h.target(nil, "skins", h.instID, "list"))
}

// DownloadSkin fetches a skin archive. The zip bytes are in Response.Bytes.
func (h *Hosted) DownloadSkin(ctx context.Context, skinID string) (*pipeline.Response, error) {
	return h.get(ctx, h.target(nil, "skins", skinID))
}

// UploadSkin creates a skin from a zip archive.
func (h *Hosted) UploadSkin(ctx context.Context, archive io.Reader, name string) (*pipeline.Response, error) {
	return h.do(ctx, http.MethodPost, h.target(skinQuery(name), "skins", h.instID, "create"), archive, skinHeader())
}

// ReplaceSkin updates a skin's archive, name or both. A nil archive renames
// only; an empty name keeps the current one.
func (h *Hosted) ReplaceSkin(ctx context.Context, skinID string, archive io.Reader, name string) (*pipeline.Response, error) {
	var body any
	var header http.Header
	if archive != nil {
		body, header = archive, skinHeader()
	}
	return h.do(ctx, http.MethodPut, h.target(skinQuery(name), "skins", skinID), body, header)
}

func (h *Hosted) CaptureAuthorisation(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	return h.api.CaptureAuthorisation(ctx, transactionID, p)
}

func (h *Hosted) CancelAuthorisation(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	return h.api.CancelAuthorisation(ctx, transactionID, p)
}

func (h *Hosted) Transaction(ctx context.Context, transactionID string) (*pipeline.Response, error) {
	return h.api.Transaction(ctx, transactionID)
}

func (h *Hosted) TransactionsByRef(ctx context.Context, merchantRef string) (*pipeline.Response, error) {
	return h.api.TransactionsByRef(ctx, merchantRef)
}

func (h *Hosted) RefundPayment(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	return h.api.RefundPayment(ctx, transactionID, p)
}

func (h *Hosted) Customer(ctx context.Context, customerID string) (*pipeline.Response, error) {
	return h.api.Customer(ctx, customerID)
}

func (h *Hosted) CustomerByRef(ctx context.Context, customerRef string) (*pipeline.Response, error) {
	return h.api.CustomerByRef(ctx, customerRef)
}

func (h *Hosted) CustomerPaymentMethods(ctx context.Context, customerID string) (*pipeline.Response, error) {
	return h.api.CustomerPaymentMethods(ctx, customerID)
}

func (h *Hosted) CustomerPaymentMethod(ctx context.Context, customerID, token string) (*pipeline.Response, error) {
	return h.api.CustomerPaymentMethod(ctx, customerID, token)
}

func skinQuery(name string) url.Values {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return url.Values{"name": {name}}
}

func skinHeader() http.Header {
	return http.Header{"Content-Type": {skinContentType}}
}
