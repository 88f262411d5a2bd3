package blue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/r9s-ai/paypoint-blue/pkg/keycase"
)

// ErrPayloadNotObject is returned by ParsePayload for JSON that is not an
// object.
var ErrPayloadNotObject = errors.New("blue: callback payload is not a JSON object")

// ParsePayload decodes a callback or notification body sent by the gateway
// into a snake_case tree. Bodies that are not valid UTF-8 are read as
// ISO-8859-1. Numbers are kept as json.Number.
func ParsePayload(r io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !utf8.Valid(raw) {
		raw, err = charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decode latin-1 payload: %w", err)
		}
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	m, ok := keycase.ToNative(v).(map[string]any)
	if !ok {
		return nil, ErrPayloadNotObject
	}
	return m, nil
}
