// Package pipeline runs one gateway call through an ordered list of stages
// around a pluggable transport.
//
// Request hooks run in stage order before the transport is called, Response
// hooks run in stage order after it returns, and Done hooks run in reverse
// order once the call has finished, whatever the result. The first error
// aborts the remaining Request/Response hooks and is returned unchanged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/r9s-ai/paypoint-blue/internal/requestid"
	"github.com/r9s-ai/paypoint-blue/pkg/jsonutil"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

// Request is an outbound call. Body is a payload tree, []byte, io.Reader or
// nil.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   any

	// DefaultKeys lists the default table entries this operation accepts.
	DefaultKeys []string
	// ID identifies the call in logs and dumps.
	ID string

	start    time.Time
	recorder *trafficdump.Recorder
}

// NewRequest parses rawURL and returns a request with an empty header.
func NewRequest(method, rawURL string, body any, defaultKeys ...string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	return &Request{
		Method:      method,
		URL:         u,
		Header:      http.Header{},
		Body:        body,
		DefaultKeys: defaultKeys,
	}, nil
}

// Response is a completed exchange.
type Response struct {
	Status int
	Header http.Header
	// Body is the decoded JSON tree for JSON responses and the raw bytes
	// otherwise.
	Body any
	// Raw holds the undecoded body.
	Raw     []byte
	Latency time.Duration
}

// Object returns Body as a map, or nil.
func (r *Response) Object() map[string]any {
	if r == nil {
		return nil
	}
	m, _ := r.Body.(map[string]any)
	return m
}

// List returns Body as a slice, or nil.
func (r *Response) List() []any {
	if r == nil {
		return nil
	}
	l, _ := r.Body.([]any)
	return l
}

// Bytes returns Body when it was not decoded, falling back to Raw.
func (r *Response) Bytes() []byte {
	if r == nil {
		return nil
	}
	if b, ok := r.Body.([]byte); ok {
		return b
	}
	return r.Raw
}

// Get reads a value from Body by dot path, e.g. "transaction.transaction_id"
// or "[0].transaction.type".
func (r *Response) Get(path string) any {
	if r == nil {
		return nil
	}
	v, _ := jsonutil.GetByPath(r.Body, path)
	return v
}

// GetString is Get for string values.
func (r *Response) GetString(path string) string {
	return jsonutil.CoerceString(r.Get(path))
}

// Transport sends a request and returns the completed exchange. Errors are
// transport failures only; HTTP error statuses are returned as responses.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Stage is one named step. Any hook may be nil.
type Stage struct {
	Name     string
	Request  func(ctx context.Context, req *Request) error
	Response func(ctx context.Context, req *Request, resp *Response) error
	Done     func(req *Request, resp *Response, err error)
}

// Pipeline is safe for concurrent use; it holds no per-call state.
type Pipeline struct {
	Stages    []Stage
	Transport Transport
}

var ErrNoTransport = errors.New("pipeline has no transport")

func New(t Transport, stages ...Stage) *Pipeline {
	return &Pipeline{Stages: stages, Transport: t}
}

// Names lists stage names in order.
func (p *Pipeline) Names() []string {
	out := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		out = append(out, s.Name)
	}
	return out
}

func (p *Pipeline) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	if p.Transport == nil {
		return nil, ErrNoTransport
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.ID == "" {
		req.ID = requestid.Gen()
	}
	req.start = time.Now()
	defer func() {
		for i := len(p.Stages) - 1; i >= 0; i-- {
			if done := p.Stages[i].Done; done != nil {
				done(req, resp, err)
			}
		}
	}()

	for _, s := range p.Stages {
		if s.Request == nil {
			continue
		}
		if err = s.Request(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err = p.Transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, redactedURL(req.URL), err)
	}
	resp.Latency = time.Since(req.start)

	for _, s := range p.Stages {
		if s.Response == nil {
			continue
		}
		if err = s.Response(ctx, req, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func redactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}

func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	return io.ReadAll(io.LimitReader(r, max))
}
