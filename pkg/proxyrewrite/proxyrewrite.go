// Package proxyrewrite routes gateway traffic through a Runscope-style
// traffic inspection proxy.
//
// The request host is folded into a single DNS label under the proxy domain
// ("api.mite.example.com" -> "api-mite-example-com-<bucket>.runscope.net").
// URLs embedded in the request body at configured paths (callback and
// notification URLs the gateway dials later) get the same treatment so one
// bucket observes both legs.
package proxyrewrite

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

const (
	DefaultDomain    = "runscope.net"
	CustomPortHeader = "Runscope-Request-Port"
)

// Pattern matches a dot joined body path such as
// "callbacks.pre_auth_callback.url" or "items.0.url".
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal matches a path exactly.
func Literal(path string) Pattern {
	return Pattern{literal: path}
}

// Regexp matches a path against expr (unanchored).
func Regexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("proxy path pattern %q: %w", expr, err)
	}
	return Pattern{re: re}, nil
}

// MustRegexp is like Regexp but panics on an invalid expression.
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) Match(path string) bool {
	if p.re != nil {
		return p.re.MatchString(path)
	}
	return p.literal == path
}

func (p Pattern) String() string {
	if p.re != nil {
		return "/" + p.re.String() + "/"
	}
	return p.literal
}

// Rule describes one proxy bucket.
type Rule struct {
	Bucket string
	// Domain defaults to DefaultDomain.
	Domain string
	Paths  []Pattern
}

func (r Rule) domain() string {
	if d := strings.TrimSpace(r.Domain); d != "" {
		return d
	}
	return DefaultDomain
}

// Host returns the proxy host for host.
func (r Rule) Host(host string) string {
	h := host
	if !isASCII(h) {
		if ascii, err := idna.Punycode.ToASCII(h); err == nil {
			h = ascii
		}
	}
	h = strings.ReplaceAll(h, "-", "--")
	h = strings.ReplaceAll(h, ".", "-")
	return h + "-" + r.Bucket + "." + r.domain()
}

// Rewrite points u at the proxy and rewrites embedded URLs in body.
// A non-default port is moved into CustomPortHeader because the proxy only
// listens on default ports. Maps and slices in body are modified in place;
// the returned value is body itself.
func (r Rule) Rewrite(u *url.URL, h http.Header, body any) any {
	if u != nil {
		r.RewriteURL(u, h)
	}
	if len(r.Paths) > 0 {
		r.rewritePaths(body, "")
	}
	return body
}

// RewriteURL applies the port and host steps to u. With a nil h a
// non-default port stays on the rewritten host.
func (r Rule) RewriteURL(u *url.URL, h http.Header) {
	port := u.Port()
	custom := port != "" && port != defaultPort(u.Scheme)
	u.Host = r.Host(u.Hostname())
	if !custom {
		return
	}
	if h == nil {
		u.Host += ":" + port
		return
	}
	h.Set(CustomPortHeader, port)
}

// RewriteString rewrites the host of an absolute URL string. Anything that
// does not parse as one is returned unchanged.
func (r Rule) RewriteString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	port := u.Port()
	u.Host = r.Host(u.Hostname())
	if port != "" {
		u.Host += ":" + port
	}
	return u.String()
}

func (r Rule) rewritePaths(node any, path string) {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			p := joinPath(path, k)
			if s, ok := v.(string); ok {
				if r.matches(p) {
					t[k] = r.RewriteString(s)
				}
				continue
			}
			r.rewritePaths(v, p)
		}
	case []any:
		for i, v := range t {
			p := joinPath(path, strconv.Itoa(i))
			if s, ok := v.(string); ok {
				if r.matches(p) {
					t[i] = r.RewriteString(s)
				}
				continue
			}
			r.rewritePaths(v, p)
		}
	case []map[string]any:
		for i, m := range t {
			r.rewritePaths(m, joinPath(path, strconv.Itoa(i)))
		}
	}
}

func (r Rule) matches(path string) bool {
	for _, p := range r.Paths {
		if p.Match(path) {
			return true
		}
	}
	return false
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	default:
		return ""
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
