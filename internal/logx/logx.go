package logx

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

var enableColor = isatty.IsTerminal(os.Stdout.Fd()) && strings.TrimSpace(os.Getenv("NO_COLOR")) == ""

// trailingKeys are printed last, in this order, so failures line up at the
// end of the line.
var trailingKeys = []string{"kind", "code", "error"}

func ColorEnabled() bool { return enableColor }

func ColorizeStatus(status int) string {
	return ColorizeStatusWith(status, enableColor)
}

func ColorizeStatusWith(status int, color bool) string {
	s := strconv.Itoa(status)
	if status == 0 {
		s = "---"
	}
	if !color {
		return s
	}
	const (
		reset  = "\x1b[0m"
		red    = "\x1b[31m"
		green  = "\x1b[32m"
		yellow = "\x1b[33m"
		cyan   = "\x1b[36m"
	)
	switch {
	case status >= 200 && status < 300:
		return green + s + reset
	case status >= 300 && status < 400:
		return cyan + s + reset
	case status >= 400 && status < 500:
		return yellow + s + reset
	default:
		return red + s + reset
	}
}

// FormatRequestLine prints a single line log for a request served by the
// callback receiver.
//
// Example:
// [BLUE] 2026/01/26 - 17:44:22 | 200 | 1.2ms | 10.0.0.7 | POST "/callbacks/pre_auth" | action=PROCEED request_id=...
func FormatRequestLine(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
) string {
	return FormatRequestLineWithColor(ts, status, latency, clientIP, method, path, fields, enableColor)
}

func FormatRequestLineWithColor(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
	color bool,
) string {
	base := fmt.Sprintf(
		`[BLUE] %s | %s | %s | %s | %s %q`,
		ts.Format("2006/01/02 - 15:04:05"),
		ColorizeStatusWith(status, color),
		latency.String(),
		strings.TrimSpace(clientIP),
		strings.TrimSpace(method),
		path,
	)
	return withFields(base, fields)
}

// FormatExchangeLine prints a single line log for a call made to the
// gateway. A zero status means no response was received.
//
// Example:
// [BLUE] 2026/01/26 - 17:44:22 | 201 | 310ms | POST "https://api.paypoint.net/acceptor/rest/transactions/5300001/payment" | request_id=...
func FormatExchangeLine(
	ts time.Time,
	status int,
	latency time.Duration,
	method string,
	url string,
	fields map[string]any,
	color bool,
) string {
	base := fmt.Sprintf(
		`[BLUE] %s | %s | %s | %s %q`,
		ts.Format("2006/01/02 - 15:04:05"),
		ColorizeStatusWith(status, color),
		latency.String(),
		strings.TrimSpace(method),
		url,
	)
	return withFields(base, fields)
}

func withFields(base string, fields map[string]any) string {
	extra := formatFields(fields)
	if extra == "" {
		return base
	}
	return base + " | " + extra
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	trailing := map[string]struct{}{}
	for _, k := range trailingKeys {
		trailing[k] = struct{}{}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := trailing[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	keys = append(keys, trailingKeys...)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = strings.TrimSpace(t)
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case error:
			s = strings.TrimSpace(t.Error())
		default:
			s = strings.TrimSpace(fmt.Sprintf("%v", v))
		}
		if s == "" || s == "<nil>" {
			continue
		}
		if strings.ContainsAny(s, " \t\"") {
			s = strconv.Quote(s)
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}
