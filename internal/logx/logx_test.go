package logx

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFormatFields_TrailingOutcomeKeys(t *testing.T) {
	t.Parallel()

	out := formatFields(map[string]any{
		"error":      errors.New("Amount exceeds amount refundable (V402)"),
		"kind":       "validation",
		"code":       "V402",
		"request_id": "r1",
		"amount":     4.89,
		"empty":      "  ",
		"nil":        nil,
	})
	want := `amount=4.89 request_id=r1 kind=validation code=V402 error="Amount exceeds amount refundable (V402)"`
	if out != want {
		t.Fatalf("got=%q\nwant=%q", out, want)
	}
}

func TestFormatFields_FloatNoScientificNotation(t *testing.T) {
	t.Parallel()

	out := formatFields(map[string]any{"amount": 1.2e-06})
	if strings.Contains(out, "e-") || out != "amount=0.0000012" {
		t.Fatalf("unexpected amount: %q", out)
	}
}

func TestFormatExchangeLine(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 26, 17, 44, 22, 0, time.UTC)
	got := FormatExchangeLine(ts, 0, 5*time.Millisecond, "GET", "https://api.paypoint.net/acceptor/rest/transactions/ping", map[string]any{"request_id": "r1"}, false)
	want := `[BLUE] 2026/01/26 - 17:44:22 | --- | 5ms | GET "https://api.paypoint.net/acceptor/rest/transactions/ping" | request_id=r1`
	if got != want {
		t.Fatalf("got=%q\nwant=%q", got, want)
	}
}

func TestFormatRequestLineWithColor(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 26, 17, 44, 22, 0, time.UTC)
	got := FormatRequestLineWithColor(ts, 404, time.Millisecond, " 10.0.0.7 ", "POST", "/callbacks/bogus", nil, true)
	if !strings.Contains(got, "\x1b[33m404\x1b[0m") || !strings.HasSuffix(got, `| 10.0.0.7 | POST "/callbacks/bogus"`) {
		t.Fatalf("unexpected line %q", got)
	}
}
