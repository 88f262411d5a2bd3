// Package blue is a client for the PayPoint Blue payment gateway.
//
// Two products share one request pipeline: API (card-not-present
// transactions and stored customers) and Hosted (hosted payment pages and
// their skins). Hosted also answers the transaction and customer queries of
// API by forwarding them to an API client built from the same options.
//
// Payloads are plain snake_case trees. Top-level shortcut keys such as
// "amount" are expanded into the nested structure the gateway expects, the
// client's defaults fill in absent keys the operation allows, and keys are
// converted to camelCase on the wire and back to snake_case in responses.
//
//	api, err := blue.NewAPI(blue.Options{
//		Endpoint: blue.EndpointTest,
//		Defaults: payload.Defaults{"currency": "GBP", "commerce_type": "ECOM"},
//	})
//	resp, err := api.MakePayment(ctx, map[string]any{
//		"merchant_ref": "xyz-1234",
//		"amount":       "4.89",
//	})
//	if errors.Is(err, outcome.Validation) { ... }
package blue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/r9s-ai/paypoint-blue/internal/logx"
	"github.com/r9s-ai/paypoint-blue/internal/version"
	"github.com/r9s-ai/paypoint-blue/pkg/outcome"
	"github.com/r9s-ai/paypoint-blue/pkg/payload"
	"github.com/r9s-ai/paypoint-blue/pkg/pipeline"
	"github.com/r9s-ai/paypoint-blue/pkg/proxyrewrite"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

// Named endpoints. Any other Options.Endpoint value is used as a base URL.
const (
	EndpointTest = "test"
	EndpointLive = "live"
)

// Environment fallbacks for the credentials.
const (
	EnvInstallation = "BLUE_API_INSTALLATION"
	EnvAPIID        = "BLUE_API_ID"
	EnvAPIPassword  = "BLUE_API_PASSWORD"
)

var (
	ErrMissingCredential = errors.New("blue: missing credential")
	ErrMissingEndpoint   = errors.New("blue: missing endpoint")
)

// DefaultProxyPaths select the callback and notification URLs of both
// products, so the gateway's calls back to the merchant pass through the
// same proxy bucket.
var DefaultProxyPaths = []proxyrewrite.Pattern{
	proxyrewrite.MustRegexp(`^(callbacks|session)\.\w+\.url$`),
}

type Options struct {
	// Endpoint is EndpointTest, EndpointLive or a base URL.
	Endpoint string
	// APIEndpoint overrides Endpoint for the API client a Hosted client
	// forwards to.
	APIEndpoint string

	InstID      string
	APIID       string
	APIPassword string

	// Defaults fill absent top-level payload keys. String values may
	// reference caller fields as %field%.
	Defaults payload.Defaults

	// ProxyBucket enables routing through a Runscope-style proxy.
	ProxyBucket string
	ProxyDomain string
	// ProxyPaths selects body URLs to rewrite. Nil means DefaultProxyPaths.
	ProxyPaths []proxyrewrite.Pattern

	// Raw keeps response headers and raw bytes on returned responses.
	Raw                   bool
	DisableCaseConversion bool

	// Log enables one line per call on stdout. Logger overrides the
	// destination and implies Log.
	Log    bool
	Logger *log.Logger

	HTTPClient *http.Client
	// Transport replaces the net/http transport entirely.
	Transport   pipeline.Transport
	TrafficDump trafficdump.Config
}

func (o Options) withEnv() (Options, error) {
	if strings.TrimSpace(o.Endpoint) == "" {
		return o, ErrMissingEndpoint
	}
	creds := []struct {
		name string
		env  string
		val  *string
	}{
		{"inst_id", EnvInstallation, &o.InstID},
		{"api_id", EnvAPIID, &o.APIID},
		{"api_password", EnvAPIPassword, &o.APIPassword},
	}
	for _, c := range creds {
		if *c.val == "" {
			*c.val = os.Getenv(c.env)
		}
		if *c.val == "" {
			return o, fmt.Errorf("%w: %s", ErrMissingCredential, c.name)
		}
	}
	return o, nil
}

// client holds what both products share. It is immutable after
// construction.
type client struct {
	base   *url.URL
	instID string
	pipe   *pipeline.Pipeline
}

func newClient(o Options, endpoints map[string]string, sc payload.Shortcuts) (*client, error) {
	raw := o.Endpoint
	if u, ok := endpoints[raw]; ok {
		raw = u
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("blue: invalid endpoint %q", o.Endpoint)
	}

	tr := o.Transport
	if tr == nil {
		tr = &pipeline.HTTPTransport{Client: o.HTTPClient, UserAgent: version.UserAgent()}
	}
	std := pipeline.StandardOptions{
		Builder:     payload.Builder{Shortcuts: sc, Defaults: payload.CloneDefaults(o.Defaults)},
		CaseConvert: !o.DisableCaseConversion,
		User:        o.APIID,
		Password:    o.APIPassword,
		Dump:        o.TrafficDump,
		Logger:      o.Logger,
		Raw:         o.Raw,
	}
	if std.Logger == nil && o.Log {
		std.Logger = log.New(os.Stdout, "", 0)
		std.Color = logx.ColorEnabled()
	}
	if o.ProxyBucket != "" {
		paths := o.ProxyPaths
		if paths == nil {
			paths = DefaultProxyPaths
		}
		std.Proxy = &proxyrewrite.Rule{Bucket: o.ProxyBucket, Domain: o.ProxyDomain, Paths: paths}
	}
	return &client{base: base, instID: o.InstID, pipe: pipeline.NewStandard(tr, std)}, nil
}

// InstID is the installation id used in request paths.
func (c *client) InstID() string { return c.instID }

// Stages lists the pipeline stage names, for diagnostics.
func (c *client) Stages() []string { return c.pipe.Names() }

func (c *client) target(query url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	rawBase := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = rawBase + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = strings.ReplaceAll(query.Encode(), "+", "%20")
	}
	return u.String()
}

func (c *client) get(ctx context.Context, target string) (*pipeline.Response, error) {
	return c.do(ctx, http.MethodGet, target, nil, nil)
}

// post sends p, built with the listed default keys. A nil p is sent as an
// empty object.
func (c *client) post(ctx context.Context, target string, p map[string]any, defaults ...string) (*pipeline.Response, error) {
	if p == nil {
		p = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, target, p, nil, defaults...)
}

func (c *client) do(ctx context.Context, method, target string, body any, header http.Header, defaults ...string) (*pipeline.Response, error) {
	req, err := pipeline.NewRequest(method, target, body, defaults...)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return c.pipe.Do(ctx, req)
}

// ping reports gateway reachability. Gateway errors mean unreachable;
// transport errors are returned.
func (c *client) ping(ctx context.Context, target string) (bool, error) {
	_, err := c.get(ctx, target)
	if err == nil {
		return true, nil
	}
	if _, ok := outcome.As(err); ok {
		return false, nil
	}
	return false, err
}

// withDeferred returns a copy of p with transaction.deferred set.
func withDeferred(p map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	txn := map[string]any{}
	switch t := out["transaction"].(type) {
	case nil:
	case map[string]any:
		for k, v := range t {
			txn[k] = v
		}
	default:
		return nil, fmt.Errorf("transaction: %w", payload.ErrPathConflict)
	}
	txn["deferred"] = true
	out["transaction"] = txn
	return out, nil
}
