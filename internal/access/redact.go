package access

import (
	"strings"
	"unicode/utf8"
)

const (
	tokenPreviewKey  = "token_preview"
	nulReplacement   = "\uFFFD"
	redactedValue    = "[redacted]"
	previewEllipsis  = "…"
	previewHalfWidth = 4
)

// TokenPreview returns the first and last four characters of token joined by
// an ellipsis, or token itself when it is eight characters or shorter.
func TokenPreview(token string) string {
	if utf8.RuneCountInString(token) <= 2*previewHalfWidth {
		return token
	}
	runes := []rune(token)
	return string(runes[:previewHalfWidth]) + previewEllipsis + string(runes[len(runes)-previewHalfWidth:])
}

// RedactContext builds the audit context from a request body: a deep copy
// without the token field and a token_preview when a string token was sent.
// Any other key or string that embeds the token becomes "[redacted]", and NUL
// characters, which Postgres cannot store, are replaced.
func RedactContext(req Request) map[string]any {
	out := make(map[string]any, len(req.Fields)+1)
	secrets := redactionNeedles(req)
	for k, v := range req.Fields {
		if k == "token" {
			continue
		}
		out[scrubString(k, secrets)] = scrub(v, secrets)
	}
	if _, ok := req.Fields["token"].(string); ok {
		out[tokenPreviewKey] = stripNUL(TokenPreview(req.RawToken))
	}
	return out
}

// SanitizeContext returns a deep copy of c with NUL characters replaced in
// every key and string value.
func SanitizeContext(c map[string]any) map[string]any {
	if c == nil {
		return nil
	}
	return scrub(c, nil).(map[string]any)
}

// Short strings are not scrubbed elsewhere in the payload: a two-letter
// token would blank out half the body.
func redactionNeedles(req Request) []string {
	var needles []string
	for _, s := range []string{req.RawToken, req.Token} {
		if utf8.RuneCountInString(s) < MinTokenLength {
			continue
		}
		dup := false
		for _, n := range needles {
			if n == s {
				dup = true
			}
		}
		if !dup {
			needles = append(needles, s)
		}
	}
	return needles
}

func scrub(v any, needles []string) any {
	switch t := v.(type) {
	case string:
		return scrubString(t, needles)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[scrubString(k, needles)] = scrub(vv, needles)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = scrub(vv, needles)
		}
		return s
	default:
		return t
	}
}

func scrubString(s string, needles []string) string {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return redactedValue
		}
	}
	return stripNUL(s)
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", nulReplacement)
}
