package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes = 32 << 20
	defaultTimeout          = 60 * time.Second
)

// HTTPTransport sends requests with net/http.
//
// Map and slice bodies are sent as JSON; []byte and io.Reader bodies are sent
// as-is with the Content-Type already on the request (application/octet-stream
// when none). Responses whose Content-Type mentions json are decoded with
// json.Number preserved.
type HTTPTransport struct {
	Client    *http.Client
	UserAgent string
	// Timeout bounds a call when ctx has no deadline. Zero means 60s.
	Timeout          time.Duration
	MaxResponseBytes int64
}

func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.URL == nil {
		return nil, fmt.Errorf("request url is nil")
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, contentType, err := EncodeBody(req)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if t.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	max := t.MaxResponseBytes
	if max <= 0 {
		max = DefaultMaxResponseBytes
	}
	raw, err := readAllLimited(resp.Body, max)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Raw:    raw,
	}
	out.Body, err = DecodeBody(resp.Header.Get("Content-Type"), raw)
	if err != nil {
		return nil, fmt.Errorf("decode %d response: %w", resp.StatusCode, err)
	}
	return out, nil
}

// EncodeBody returns the bytes and content type req.Body is sent with. An
// io.Reader body is drained and replaced by its bytes so later readers see
// the same content.
func EncodeBody(req *Request) ([]byte, string, error) {
	ct := ""
	if req.Header != nil {
		ct = req.Header.Get("Content-Type")
	}
	switch b := req.Body.(type) {
	case nil:
		return nil, ct, nil
	case []byte:
		return b, firstNonEmpty(ct, "application/octet-stream"), nil
	case string:
		return []byte(b), firstNonEmpty(ct, "text/plain; charset=utf-8"), nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		req.Body = data
		return data, firstNonEmpty(ct, "application/octet-stream"), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

// DecodeBody decodes raw as JSON when contentType names json and returns raw
// unchanged otherwise. An empty body decodes to nil.
func DecodeBody(contentType string, raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return raw, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
