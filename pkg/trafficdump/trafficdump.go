// Package trafficdump writes one plain-text file per exchange for offline
// inspection of gateway traffic.
//
// Outbound calls are recorded with Open; inbound callbacks served by gin are
// recorded with Start. Sensitive headers, query parameters and card fields
// are masked when Config.MaskSecrets is set.
package trafficdump

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/paypoint-blue/internal/requestid"
)

const (
	ctxKeyRecorder = "blue.traffic_dump_recorder"
	redacted       = "[REDACTED]"
)

var cardFieldRegex = regexp.MustCompile(`(?i)"(pan|cv2|cvv2?|password|api_?password)"\s*:\s*"[^"]*"`)

type Config struct {
	Enabled bool
	Dir     string
	// FilePath is a text/template evaluated with .request_id and .direction.
	FilePath    string
	MaxBytes    int
	MaskSecrets bool
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("traffic_dump.dir is empty")
	}
	if strings.TrimSpace(c.FilePath) == "" {
		return errors.New("traffic_dump.file_path is empty")
	}
	if c.MaxBytes < 0 {
		return errors.New("traffic_dump.max_bytes must be non-negative")
	}
	return nil
}

type Recorder struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	maxBytes int
	mask     bool
	closed   bool
}

// Open creates the dump file for an outbound call. direction is recorded in
// the META section and available to the file name template.
func Open(cfg Config, requestID, direction string) (*Recorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rid := requestid.FromHeader(requestID)
	r, err := create(cfg, map[string]string{"request_id": rid, "direction": direction})
	if err != nil {
		return nil, err
	}
	meta := r.section("META")
	meta.kv("time", time.Now().Format(time.RFC3339))
	meta.kv("request_id", rid)
	meta.kv("direction", direction)
	r.emit(meta)
	return r, nil
}

// RequestID returns the request id of c, assigning a new one when the
// caller sent none.
func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v := strings.TrimSpace(c.GetString(requestid.HeaderKey)); v != "" {
		return v
	}
	id := requestid.FromHeader(c.GetHeader(requestid.HeaderKey))
	c.Set(requestid.HeaderKey, id)
	c.Header(requestid.HeaderKey, id)
	return id
}

// Start opens a recorder for an inbound request and attaches it to c.
func Start(c *gin.Context, cfg Config) (*Recorder, error) {
	if c == nil {
		return nil, errors.New("context is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rid := RequestID(c)
	r, err := create(cfg, map[string]string{"request_id": rid, "direction": "inbound"})
	if err != nil {
		return nil, err
	}
	c.Set(ctxKeyRecorder, r)

	meta := r.section("META")
	meta.kv("time", time.Now().Format(time.RFC3339))
	meta.kv("request_id", rid)
	meta.kv("direction", "inbound")
	meta.kv("method", c.Request.Method)
	meta.kv("path", maskURLIfNeeded(c.Request.URL.String(), r.mask))
	meta.kv("client_ip", c.ClientIP())
	meta.headers(c.Request.Header)
	r.emit(meta)
	return r, nil
}

func create(cfg Config, data map[string]string) (*Recorder, error) {
	tmpl, err := template.New("path").Parse(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	var name bytes.Buffer
	if err := tmpl.Execute(&name, data); err != nil {
		return nil, err
	}

	path := filepath.Join(strings.TrimSpace(cfg.Dir), name.String())
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304 -- path is derived from configured dump dir and template.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	return &Recorder{f: f, path: path, maxBytes: cfg.MaxBytes, mask: cfg.MaskSecrets}, nil
}

func FromContext(c *gin.Context) *Recorder {
	if c == nil {
		return nil
	}
	v, ok := c.Get(ctxKeyRecorder)
	if !ok {
		return nil
	}
	rec, _ := v.(*Recorder)
	return rec
}

// Path is the file being written.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Close is idempotent. Appends after Close are dropped.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	_ = r.f.Close()
}

// AppendRequest records an outbound request.
func (r *Recorder) AppendRequest(method, rawURL string, headers map[string][]string, body []byte) {
	if r == nil {
		return
	}
	s := r.section("GATEWAY REQUEST")
	s.line(method + " " + maskURLIfNeeded(rawURL, r.mask))
	s.headers(headers)
	s.body(headerValue(headers, "Content-Type"), body)
	r.emit(s)
}

// AppendResponse records the gateway's reply.
func (r *Recorder) AppendResponse(statusLine string, headers map[string][]string, body []byte) {
	if r == nil {
		return
	}
	s := r.section("GATEWAY RESPONSE")
	s.line(statusLine)
	s.headers(headers)
	s.body(headerValue(headers, "Content-Type"), body)
	r.emit(s)
}

// AppendError records a failure that ended the exchange.
func (r *Recorder) AppendError(err error) {
	if r == nil || err == nil {
		return
	}
	s := r.section("ERROR")
	s.line(err.Error())
	r.emit(s)
}

// AppendCallback records the body of an inbound callback.
func AppendCallback(c *gin.Context, body []byte) {
	r := FromContext(c)
	if r == nil {
		return
	}
	ct := ""
	if c.Request != nil {
		ct = c.Request.Header.Get("Content-Type")
	}
	s := r.section("CALLBACK")
	s.body(ct, body)
	r.emit(s)
}

// AppendCallbackReply records the reply sent back to the gateway.
func AppendCallbackReply(c *gin.Context, statusCode int, body []byte) {
	r := FromContext(c)
	if r == nil {
		return
	}
	s := r.section("CALLBACK REPLY")
	s.kv("status", strconv.Itoa(statusCode))
	s.line("")
	s.body("application/json", body)
	r.emit(s)
}

// section buffers one titled block so concurrent appends never interleave.
type section struct {
	buf      bytes.Buffer
	mask     bool
	maxBytes int
}

func (r *Recorder) section(title string) *section {
	s := &section{mask: r.mask, maxBytes: r.maxBytes}
	s.line("=== " + title + " ===")
	return s
}

func (s *section) line(v string) {
	s.buf.WriteString(v)
	s.buf.WriteByte('\n')
}

func (s *section) kv(k, v string) { s.line(k + "=" + v) }

// headers writes h sorted by name, followed by a blank line.
func (s *section) headers(h map[string][]string) {
	s.line("headers:")
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			s.line("  " + k + ": " + maskIfNeeded(k, v, s.mask))
		}
	}
	s.line("")
}

func (s *section) body(ct string, b []byte) {
	b, truncated := LimitBytes(b, s.maxBytes)
	switch {
	case len(b) > 0 && isBinaryByContentType(ct):
		s.line("[base64]")
		s.line(base64.StdEncoding.EncodeToString(b))
	default:
		if s.mask {
			b = redactCardFields(b)
		}
		s.buf.Write(b)
		if len(b) == 0 || b[len(b)-1] != '\n' {
			s.buf.WriteByte('\n')
		}
	}
	if truncated {
		s.line("[truncated]")
	}
}

func (r *Recorder) emit(s *section) {
	s.buf.WriteByte('\n')
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = r.f.Write(s.buf.Bytes())
}

func headerValue(headers map[string][]string, key string) string {
	for k, vals := range headers {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// sensitiveHeaderParts are matched against lower-cased header names.
var sensitiveHeaderParts = []string{"authorization", "api-key", "token", "cookie"}

func maskIfNeeded(key, val string, on bool) string {
	if !on {
		return val
	}
	lk := strings.ToLower(key)
	for _, part := range sensitiveHeaderParts {
		if strings.Contains(lk, part) {
			return redacted
		}
	}
	return val
}

func maskURLIfNeeded(rawURL string, on bool) string {
	if !on {
		return rawURL
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	changed := false
	if u.User != nil {
		u.User = nil
		changed = true
	}
	q := u.Query()
	for k := range q {
		if sensitiveQueryKey(k) {
			q.Set(k, redacted)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func sensitiveQueryKey(k string) bool {
	lk := strings.ToLower(strings.TrimSpace(k))
	switch lk {
	case "key", "api_key":
		return true
	}
	return strings.Contains(lk, "token") || strings.Contains(lk, "secret") || strings.Contains(lk, "password")
}

func isBinaryByContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return false
	}
	return !strings.Contains(ct, "json") && !strings.HasPrefix(ct, "text/")
}

func redactCardFields(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	return cardFieldRegex.ReplaceAllFunc(body, func(m []byte) []byte {
		s := string(m)
		idx := strings.Index(s, ":")
		return []byte(s[:idx+1] + `"` + redacted + `"`)
	})
}

// LimitBytes truncates b to max bytes. A max of zero keeps b whole.
func LimitBytes(b []byte, max int) (out []byte, truncated bool) {
	if max <= 0 || len(b) <= max {
		return b, false
	}
	return b[:max], true
}
