package access

import "context"

// IsAllowed reports whether an allow grant exists for the account on the
// gate, either directly or through any group the account belongs to.
// A direct allow=false does not override a group allow=true; there is no
// explicit-deny precedence. No matching row means deny.
func IsAllowed(ctx context.Context, q GrantLookup, account Account, gate Gate) (bool, error) {
	if account.ID == 0 || gate.ID == 0 {
		return false, nil
	}
	return q.GrantExists(ctx, gate.ID, account.ID)
}
