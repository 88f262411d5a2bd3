package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/r9s-ai/paypoint-blue/internal/logx"
	"github.com/r9s-ai/paypoint-blue/pkg/jsonutil"
	"github.com/r9s-ai/paypoint-blue/pkg/keycase"
	"github.com/r9s-ai/paypoint-blue/pkg/outcome"
	"github.com/r9s-ai/paypoint-blue/pkg/payload"
	"github.com/r9s-ai/paypoint-blue/pkg/proxyrewrite"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

// Stage names, in the order NewStandard assembles them.
const (
	StageBuildPayload = "build_payload"
	StageProxy        = "proxy"
	StageWireCase     = "wire_case"
	StageBasicAuth    = "basic_auth"
	StageDump         = "dump"
	StageLog          = "log"
	StageNativeCase   = "native_case"
	StageClassify     = "classify"
	StageExtractBody  = "extract_body"
)

// BuildPayload expands shortcuts and applies the defaults named by
// Request.DefaultKeys to map bodies.
func BuildPayload(b payload.Builder) Stage {
	return Stage{
		Name: StageBuildPayload,
		Request: func(_ context.Context, req *Request) error {
			m, ok := req.Body.(map[string]any)
			if !ok {
				return nil
			}
			built, err := b.Build(m, req.DefaultKeys...)
			if err != nil {
				return fmt.Errorf("build payload: %w", err)
			}
			req.Body = built
			return nil
		},
	}
}

// Proxy routes the request through a traffic inspection proxy.
func Proxy(rule proxyrewrite.Rule) Stage {
	return Stage{
		Name: StageProxy,
		Request: func(_ context.Context, req *Request) error {
			body := req.Body
			switch body.(type) {
			case map[string]any, []any:
				body = jsonutil.Clone(body)
			}
			req.Body = rule.Rewrite(req.URL, req.Header, body)
			return nil
		},
	}
}

// WireCase converts tree bodies to camelCase keys.
func WireCase() Stage {
	return Stage{
		Name: StageWireCase,
		Request: func(_ context.Context, req *Request) error {
			switch req.Body.(type) {
			case map[string]any, []any:
				req.Body = keycase.ToWire(req.Body)
			}
			return nil
		},
	}
}

// BasicAuth sets fixed HTTP basic credentials.
func BasicAuth(user, password string) Stage {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return Stage{
		Name: StageBasicAuth,
		Request: func(_ context.Context, req *Request) error {
			req.Header.Set("Authorization", "Basic "+token)
			return nil
		},
	}
}

// Dump records the exchange with trafficdump. A dump that cannot be opened
// is skipped; it never fails the call.
func Dump(cfg trafficdump.Config) Stage {
	return Stage{
		Name: StageDump,
		Request: func(_ context.Context, req *Request) error {
			if !cfg.Enabled {
				return nil
			}
			rec, err := trafficdump.Open(cfg, req.ID, "outbound")
			if err != nil {
				return nil
			}
			req.recorder = rec
			body, ct, err := EncodeBody(req)
			if err != nil {
				return err
			}
			h := req.Header.Clone()
			if ct != "" {
				h.Set("Content-Type", ct)
			}
			rec.AppendRequest(req.Method, redactedURL(req.URL), h, body)
			return nil
		},
		Response: func(_ context.Context, req *Request, resp *Response) error {
			if req.recorder != nil {
				req.recorder.AppendResponse(fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)), resp.Header, resp.Raw)
			}
			return nil
		},
		Done: func(req *Request, _ *Response, err error) {
			if req.recorder == nil {
				return
			}
			req.recorder.AppendError(err)
			req.recorder.Close()
			req.recorder = nil
		},
	}
}

// Log writes one logx exchange line per call, including failures.
func Log(l *log.Logger, color bool) Stage {
	return Stage{
		Name: StageLog,
		Done: func(req *Request, resp *Response, err error) {
			if l == nil {
				return
			}
			status := 0
			latency := time.Since(req.start)
			if resp != nil {
				status = resp.Status
				latency = resp.Latency
			}
			fields := map[string]any{"request_id": req.ID}
			if e, ok := outcome.As(err); ok {
				fields["kind"] = e.Kind.String()
				fields["code"] = e.Code
				fields["error"] = e.Message
			} else if err != nil {
				fields["error"] = err
			}
			l.Println(logx.FormatExchangeLine(time.Now(), status, latency, req.Method, redactedURL(req.URL), fields, color))
		},
	}
}

// NativeCase converts tree response bodies to snake_case keys.
func NativeCase() Stage {
	return Stage{
		Name: StageNativeCase,
		Response: func(_ context.Context, _ *Request, resp *Response) error {
			switch resp.Body.(type) {
			case map[string]any, []any:
				resp.Body = keycase.ToNative(resp.Body)
			}
			return nil
		},
	}
}

// Classify turns failed exchanges into *outcome.Error.
func Classify() Stage {
	return Stage{
		Name: StageClassify,
		Response: func(_ context.Context, _ *Request, resp *Response) error {
			return outcome.Classify(resp.Status, resp.Header, resp.Body)
		},
	}
}

// ExtractBody drops everything but the status and decoded body.
func ExtractBody() Stage {
	return Stage{
		Name: StageExtractBody,
		Response: func(_ context.Context, _ *Request, resp *Response) error {
			resp.Header = nil
			if _, isBytes := resp.Body.([]byte); !isBytes {
				resp.Raw = nil
			}
			return nil
		},
	}
}

// StandardOptions selects the optional stages of NewStandard.
type StandardOptions struct {
	Builder     payload.Builder
	Proxy       *proxyrewrite.Rule
	CaseConvert bool
	User        string
	Password    string
	Dump        trafficdump.Config
	Logger      *log.Logger
	Color       bool
	Raw         bool
	ExtraStages []Stage
}

// NewStandard assembles the gateway pipeline in its fixed order.
func NewStandard(t Transport, o StandardOptions) *Pipeline {
	stages := []Stage{BuildPayload(o.Builder)}
	if o.Proxy != nil {
		stages = append(stages, Proxy(*o.Proxy))
	}
	if o.CaseConvert {
		stages = append(stages, WireCase())
	}
	stages = append(stages, BasicAuth(o.User, o.Password))
	if o.Dump.Enabled {
		stages = append(stages, Dump(o.Dump))
	}
	if o.Logger != nil {
		stages = append(stages, Log(o.Logger, o.Color))
	}
	if o.CaseConvert {
		stages = append(stages, NativeCase())
	}
	stages = append(stages, Classify())
	if !o.Raw {
		stages = append(stages, ExtractBody())
	}
	stages = append(stages, o.ExtraStages...)
	return New(t, stages...)
}
