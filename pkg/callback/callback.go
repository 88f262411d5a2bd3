// Package callback receives the calls the gateway makes back to the
// merchant: pre- and post-authorisation callbacks, which expect an action in
// reply, and transaction and expiry notifications, which only need an
// acknowledgement.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/paypoint-blue/pkg/blue"
	"github.com/r9s-ai/paypoint-blue/pkg/jsonutil"
	"github.com/r9s-ai/paypoint-blue/pkg/keycase"
	"github.com/r9s-ai/paypoint-blue/pkg/trafficdump"
)

// Callback kinds, as they appear in the /callbacks/:kind route.
const (
	KindPreAuth                 = "pre_auth"
	KindPostAuth                = "post_auth"
	KindTransactionNotification = "transaction_notification"
	KindExpiryNotification      = "expiry_notification"
)

// Kinds lists every routed callback kind.
var Kinds = []string{KindPreAuth, KindPostAuth, KindTransactionNotification, KindExpiryNotification}

// Replies to pre- and post-authorisation callbacks.
const (
	ActionProceed = "PROCEED"
	ActionCancel  = "CANCEL"
)

// gin context keys read by the access log.
const (
	CtxKeyKind          = "blue.callback_kind"
	CtxKeyTransactionID = "blue.transaction_id"
	CtxKeyAction        = "blue.callback_action"
)

// MaxBodyBytes caps the callback body read from the gateway.
const MaxBodyBytes = 1 << 20

var ErrUnknownAction = errors.New("unknown callback action")

// NormalizeAction upper-cases and validates an action. Empty means
// ActionProceed.
func NormalizeAction(action string) (string, error) {
	a := strings.ToUpper(strings.TrimSpace(action))
	switch a {
	case "":
		return ActionProceed, nil
	case ActionProceed, ActionCancel:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// IsKind reports whether kind is routed.
func IsKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Handler answers one callback. payload and the returned reply are
// snake_case trees; a nil reply is sent as 204 No Content.
type Handler interface {
	Handle(ctx context.Context, kind string, payload map[string]any) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, kind string, payload map[string]any) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, kind string, payload map[string]any) (map[string]any, error) {
	return f(ctx, kind, payload)
}

// Actions is the reply table of StaticActions.
type Actions struct {
	PreAuth  string
	PostAuth string
}

// StaticActions replies to authorisation callbacks from a fixed table and
// acknowledges notifications. The table can be swapped while serving.
type StaticActions struct {
	mu      sync.RWMutex
	actions Actions
}

func NewStaticActions(a Actions) *StaticActions {
	return &StaticActions{actions: a}
}

func (s *StaticActions) Actions() Actions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions
}

func (s *StaticActions) SetActions(a Actions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = a
}

func (s *StaticActions) Handle(_ context.Context, kind string, _ map[string]any) (map[string]any, error) {
	a := s.Actions()
	var action string
	switch kind {
	case KindPreAuth:
		action = a.PreAuth
	case KindPostAuth:
		action = a.PostAuth
	default:
		return nil, nil
	}
	norm, err := NormalizeAction(action)
	if err != nil {
		return nil, err
	}
	return map[string]any{"action": norm}, nil
}

// Register mounts POST /callbacks/:kind on r.
func Register(r gin.IRoutes, h Handler) {
	r.POST("/callbacks/:kind", handle(h))
}

func handle(h Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := c.Param("kind")
		if !IsKind(kind) {
			writeError(c, http.StatusNotFound, "unknown_callback", fmt.Sprintf("unknown callback kind %q", kind))
			return
		}
		c.Set(CtxKeyKind, kind)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes))
		if err != nil {
			writeError(c, http.StatusBadRequest, "unreadable_body", err.Error())
			return
		}
		trafficdump.AppendCallback(c, body)

		payload, err := blue.ParsePayload(bytes.NewReader(body))
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		if id, _ := jsonutil.GetByPath(payload, "transaction.transaction_id"); id != nil {
			if s, ok := jsonutil.Format(id); ok {
				c.Set(CtxKeyTransactionID, s)
			}
		}

		reply, err := h.Handle(c.Request.Context(), kind, payload)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "handler_failed", err.Error())
			return
		}
		if reply == nil {
			trafficdump.AppendCallbackReply(c, http.StatusNoContent, nil)
			c.Status(http.StatusNoContent)
			return
		}
		if action, ok := reply["action"].(string); ok {
			c.Set(CtxKeyAction, action)
		}
		out, err := json.Marshal(keycase.ToWire(reply))
		if err != nil {
			writeError(c, http.StatusInternalServerError, "encode_failed", err.Error())
			return
		}
		trafficdump.AppendCallbackReply(c, http.StatusOK, out)
		c.Data(http.StatusOK, "application/json", out)
	}
}

func writeError(c *gin.Context, status int, code, msg string) {
	body := gin.H{"error": gin.H{"message": msg, "code": code}}
	if out, err := json.Marshal(body); err == nil {
		trafficdump.AppendCallbackReply(c, status, out)
	}
	c.AbortWithStatusJSON(status, body)
}
