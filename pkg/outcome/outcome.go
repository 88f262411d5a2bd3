// Package outcome classifies gateway responses into typed errors.
//
// The gateway reports the semantic result of an operation in an "outcome"
// object embedded in the body, separately from the HTTP status. The first
// character of its reason code selects the error kind:
//
//	S success
//	V validation
//	A auth
//	C cancelled
//	X external
//	U suspended
//
// Any other code is a generic client error. Without an outcome, a 404 whose
// body carries reason code A400 is a not-found error and any other status
// from 400 up is a generic client error.
//
// Kinds are errors themselves so callers can branch with errors.Is:
//
//	if errors.Is(err, outcome.Validation) { ... }
package outcome

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/r9s-ai/paypoint-blue/pkg/jsonutil"
)

// Kind identifies the class of a gateway failure.
type Kind int

const (
	Client Kind = iota
	Validation
	Auth
	Cancelled
	External
	Suspended
	NotFound
)

// NotFoundCode is the reason code the gateway puts in 404 bodies for
// unknown resources.
const NotFoundCode = "A400"

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Auth:
		return "auth"
	case Cancelled:
		return "cancelled"
	case External:
		return "external"
	case Suspended:
		return "suspended"
	case NotFound:
		return "not_found"
	default:
		return "client"
	}
}

// Error makes Kind usable as an errors.Is target.
func (k Kind) Error() string { return "gateway " + k.String() + " error" }

// Error is a failure signalled by the gateway.
type Error struct {
	Kind Kind
	// Code is the outcome reason code, empty when the response had no outcome.
	Code    string
	Message string
	Status  int
	Header  http.Header
	Body    any
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Is reports whether target is e's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// As returns the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindForCode maps an outcome reason code to a kind. ok is false for
// success codes.
func KindForCode(code string) (kind Kind, ok bool) {
	if code == "" {
		return Client, true
	}
	switch code[0] {
	case 'S':
		return 0, false
	case 'V':
		return Validation, true
	case 'A':
		return Auth, true
	case 'C':
		return Cancelled, true
	case 'X':
		return External, true
	case 'U':
		return Suspended, true
	default:
		return Client, true
	}
}

// Outcome is the result descriptor embedded in response bodies.
type Outcome struct {
	ReasonCode    string
	ReasonMessage string
}

// Extract returns the outcome embedded in body. Both snake_case and
// camelCase field spellings are accepted.
func Extract(body any) (Outcome, bool) {
	m, ok := body.(map[string]any)
	if !ok {
		return Outcome{}, false
	}
	raw, ok := m["outcome"].(map[string]any)
	if !ok {
		return Outcome{}, false
	}
	return Outcome{
		ReasonCode:    lookupString(raw, "reason_code", "reasonCode"),
		ReasonMessage: lookupString(raw, "reason_message", "reasonMessage"),
	}, true
}

// Classify inspects a completed exchange. It returns nil for success and an
// *Error otherwise.
func Classify(status int, header http.Header, body any) error {
	if oc, ok := Extract(body); ok {
		kind, failed := KindForCode(oc.ReasonCode)
		if !failed {
			return nil
		}
		return &Error{
			Kind:    kind,
			Code:    oc.ReasonCode,
			Message: oc.ReasonMessage,
			Status:  status,
			Header:  header,
			Body:    body,
		}
	}
	if status < http.StatusBadRequest {
		return nil
	}
	kind := Client
	if status == http.StatusNotFound && bodyReasonCode(body) == NotFoundCode {
		kind = NotFound
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("the server responded with status %d", status),
		Status:  status,
		Header:  header,
		Body:    body,
	}
}

func bodyReasonCode(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	return lookupString(m, "reason_code", "reasonCode")
}

func lookupString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(jsonutil.CoerceString(m[k])); s != "" {
			return s
		}
	}
	return ""
}
