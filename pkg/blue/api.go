package blue

import (
	"context"
	"net/http"
	"net/url"

	"github.com/r9s-ai/paypoint-blue/pkg/payload"
	"github.com/r9s-ai/paypoint-blue/pkg/pipeline"
)

// APIEndpoints resolves the named endpoints of the API product.
var APIEndpoints = map[string]string{
	EndpointTest: "https://api.mite.paypoint.net:2443/acceptor/rest",
	EndpointLive: "https://api.paypoint.net/acceptor/rest",
}

// APIShortcuts are the payload aliases accepted by API operations.
var APIShortcuts = payload.Shortcuts{
	"merchant_ref":  "transaction.merchant_ref",
	"amount":        "transaction.amount",
	"currency":      "transaction.currency",
	"commerce_type": "transaction.commerce_type",
	"customer_ref":  "customer.merchant_ref",
	"customer_name": "customer.display_name",

	"pre_auth_callback":        "callbacks.pre_auth_callback.url",
	"post_auth_callback":       "callbacks.post_auth_callback.url",
	"transaction_notification": "callbacks.transaction_notification.url",
	"expiry_notification":      "callbacks.expiry_notification.url",
}

var (
	apiPaymentDefaults = []string{
		"currency", "commerce_type",
		"pre_auth_callback", "post_auth_callback",
		"transaction_notification", "expiry_notification",
	}
	apiFollowUpDefaults = []string{"commerce_type"}
)

// API is the card-not-present transaction client. It is safe for
// concurrent use.
type API struct {
	*client
}

// NewAPI builds an API client. Missing credentials are read from the
// BLUE_API_* environment variables.
func NewAPI(o Options) (*API, error) {
	o, err := o.withEnv()
	if err != nil {
		return nil, err
	}
	c, err := newClient(o, APIEndpoints, APIShortcuts)
	if err != nil {
		return nil, err
	}
	return &API{client: c}, nil
}

// Ping reports whether the gateway answers. A gateway error is reported as
// false with a nil error.
func (a *API) Ping(ctx context.Context) (bool, error) {
	return a.ping(ctx, a.target(nil, "transactions", "ping"))
}

func (a *API) MakePayment(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	return a.post(ctx, a.target(nil, "transactions", a.instID, "payment"), p, apiPaymentDefaults...)
}

// SubmitAuthorisation is MakePayment with transaction.deferred set, so the
// funds are only reserved until CaptureAuthorisation.
func (a *API) SubmitAuthorisation(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	p, err := withDeferred(p)
	if err != nil {
		return nil, err
	}
	return a.MakePayment(ctx, p)
}

func (a *API) CaptureAuthorisation(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	return a.post(ctx, a.target(nil, "transactions", a.instID, transactionID, "capture"), p, apiFollowUpDefaults...)
}

func (a *API) CancelAuthorisation(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	return a.post(ctx, a.target(nil, "transactions", a.instID, transactionID, "cancel"), p, apiFollowUpDefaults...)
}

func (a *API) Transaction(ctx context.Context, transactionID string) (*pipeline.Response, error) {
	return a.get(ctx, a.target(nil, "transactions", a.instID, transactionID))
}

// TransactionsByRef lists the transactions carrying a merchant reference.
// The response body is a list.
func (a *API) TransactionsByRef(ctx context.Context, merchantRef string) (*pipeline.Response, error) {
	q := url.Values{"merchantRef": {merchantRef}}
	return a.get(ctx, a.target(q, "transactions", a.instID, "byRef"))
}

// RefundPayment refunds a payment in full, or partially when p carries an
// amount. Only partial refunds receive the payment defaults.
func (a *API) RefundPayment(ctx context.Context, transactionID string, p map[string]any) (*pipeline.Response, error) {
	var defaults []string
	if hasAmount(p) {
		defaults = apiPaymentDefaults
	}
	return a.post(ctx, a.target(nil, "transactions", a.instID, transactionID, "refund"), p, defaults...)
}

func (a *API) SubmitPayout(ctx context.Context, p map[string]any) (*pipeline.Response, error) {
	return a.post(ctx, a.target(nil, "transactions", a.instID, "payout"), p, apiPaymentDefaults...)
}

func (a *API) Customer(ctx context.Context, customerID string) (*pipeline.Response, error) {
	return a.get(ctx, a.target(nil, "customers", a.instID, customerID))
}

func (a *API) CustomerByRef(ctx context.Context, customerRef string) (*pipeline.Response, error) {
	q := url.Values{"merchantRef": {customerRef}}
	return a.get(ctx, a.target(q, "customers", a.instID, "byRef"))
}

func (a *API) CustomerPaymentMethods(ctx context.Context, customerID string) (*pipeline.Response, error) {
	return a.get(ctx, a.target(nil, "customers", a.instID, customerID, "paymentMethods"))
}

func (a *API) CustomerPaymentMethod(ctx context.Context, customerID, token string) (*pipeline.Response, error) {
	return a.get(ctx, a.target(nil, "customers", a.instID, customerID, "paymentMethods", token))
}

// RemoveCard deletes a stored card from a customer.
func (a *API) RemoveCard(ctx context.Context, customerID, token string) (*pipeline.Response, error) {
	return a.do(ctx, http.MethodPost, a.target(nil, "customers", a.instID, customerID, "paymentMethods", token, "remove"), map[string]any{}, nil)
}

func hasAmount(p map[string]any) bool {
	if p["amount"] != nil {
		return true
	}
	txn, ok := p["transaction"].(map[string]any)
	return ok && txn["amount"] != nil
}
