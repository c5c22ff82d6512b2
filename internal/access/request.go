package access

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinTokenLength = 8
	MaxTokenLength = 128
)

// Request is a parsed verification request.
type Request struct {
	GateID string
	// Token is the trimmed bearer token used for lookups.
	Token string
	// RawToken is the token exactly as submitted; only redaction sees it.
	RawToken string
	// Fields is the decoded body object, nil when the body was not an object.
	Fields map[string]any
	// BodyError classifies a body that could not be decoded into an object:
	// "empty_body", "invalid_json" or "not_an_object".
	BodyError string
}

// ParseRequest decodes and validates a verification body. On error the
// returned Request still carries whatever could be decoded so the attempt
// can be audited.
func ParseRequest(body []byte) (Request, error) {
	var req Request
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		req.BodyError = "empty_body"
		return req, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		req.BodyError = "invalid_json"
		return req, fmt.Errorf("%w: invalid json", ErrInvalidRequest)
	}
	if dec.More() {
		req.BodyError = "invalid_json"
		return req, fmt.Errorf("%w: trailing data after json object", ErrInvalidRequest)
	}
	fields, ok := v.(map[string]any)
	if !ok {
		req.BodyError = "not_an_object"
		return req, fmt.Errorf("%w: body is not an object", ErrInvalidRequest)
	}
	req.Fields = fields

	if raw, ok := fields["token"].(string); ok {
		req.RawToken = raw
		req.Token = strings.TrimSpace(raw)
	}
	if gate, ok := fields["gate_id"].(string); ok {
		req.GateID = NormalizeGateCode(gate)
	}

	if _, ok := fields["gate_id"].(string); !ok {
		return req, fmt.Errorf("%w: gate_id must be a string", ErrInvalidRequest)
	}
	if req.GateID == "" {
		return req, fmt.Errorf("%w: gate_id is required", ErrInvalidRequest)
	}
	if hasControl(req.GateID) {
		return req, fmt.Errorf("%w: gate_id contains control characters", ErrInvalidRequest)
	}
	if _, ok := fields["token"].(string); !ok {
		return req, fmt.Errorf("%w: token must be a string", ErrInvalidRequest)
	}
	n := utf8.RuneCountInString(req.Token)
	if n < MinTokenLength || n > MaxTokenLength {
		return req, fmt.Errorf("%w: token length must be %d..%d", ErrInvalidRequest, MinTokenLength, MaxTokenLength)
	}
	if hasControl(req.Token) {
		return req, fmt.Errorf("%w: token contains control characters", ErrInvalidRequest)
	}
	return req, nil
}

// hasControl reports whether s holds a NUL or other control character.
// Codes and tokens never carry them, and Postgres rejects NUL in text.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
