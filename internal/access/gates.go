package access

import (
	"context"
	"strings"
)

// NormalizeGateCode trims surrounding whitespace. Gate codes are otherwise
// matched exactly: "Gate-01" and "gate-01" are different gates.
func NormalizeGateCode(code string) string {
	return strings.TrimSpace(code)
}

// LookupGate resolves a gate code. Unknown codes yield ErrNotFound.
func LookupGate(ctx context.Context, q GateLookup, code string) (Gate, error) {
	code = NormalizeGateCode(code)
	if code == "" {
		return Gate{}, ErrNotFound
	}
	return q.GateByCode(ctx, code)
}
