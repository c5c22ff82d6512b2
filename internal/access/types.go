// Package access decides whether a bearer credential may pass a gate and
// keeps an immutable audit trail of every attempt.
package access

import "time"

// Decision is the externally visible verdict.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// Reason is the machine-readable explanation attached to a Decision.
type Reason string

const (
	ReasonInvalidRequest Reason = "INVALID_REQUEST"
	ReasonRateLimit      Reason = "RATE_LIMIT"
	ReasonUnknownGate    Reason = "UNKNOWN_GATE"
	ReasonTokenInvalid   Reason = "TOKEN_INVALID"
	ReasonDeviceInactive Reason = "DEVICE_INACTIVE"
	ReasonNoPermission   Reason = "NO_PERMISSION"
	ReasonOK             Reason = "OK"
)

// Reasons lists every reason code in pipeline order.
var Reasons = []Reason{
	ReasonInvalidRequest,
	ReasonRateLimit,
	ReasonUnknownGate,
	ReasonTokenInvalid,
	ReasonDeviceInactive,
	ReasonNoPermission,
	ReasonOK,
}

// Decision maps a terminal reason to its verdict. Only OK allows.
func (r Reason) Decision() Decision {
	if r == ReasonOK {
		return DecisionAllow
	}
	return DecisionDeny
}

// Gate is an access point identified by a stable code.
type Gate struct {
	ID       int64
	Code     string
	Name     string
	Location string
}

// Account is a principal that holds grants and credentials.
type Account struct {
	ID       int64
	Username string
	Active   bool
}

// Device carries a static per-device bearer token.
type Device struct {
	ID              int64
	AccountID       int64
	Name            string
	AndroidDeviceID string
	Token           string
	Active          bool
}

// Session is an account-level bearer token issued by the token-auth mechanism.
type Session struct {
	Token     string
	AccountID int64
	Active    bool
}

// Grant ties a gate to an account or a group. At least one of AccountID and
// GroupID is set; (GateID, AccountID, GroupID) is unique.
type Grant struct {
	GateID    int64
	AccountID *int64
	GroupID   *int64
	Allow     bool
}

// Validate checks the account-or-group invariant.
func (g Grant) Validate() error {
	if g.GateID == 0 {
		return ErrInvalidGrant
	}
	if g.AccountID == nil && g.GroupID == nil {
		return ErrInvalidGrant
	}
	return nil
}

// Credential is a resolved bearer token.
type Credential struct {
	Account Account
	// DeviceID is set only for device tokens.
	DeviceID *int64
	// Inactive reports a credential-level deactivation that the resolver
	// chose to surface instead of hiding behind ErrNotFound.
	Inactive bool
}

// AuditEvent is the immutable record of one verification attempt.
type AuditEvent struct {
	ID        string
	CreatedAt time.Time
	GateID    *int64
	AccountID *int64
	DeviceID  *int64
	Decision  Decision
	Reason    Reason
	Context   map[string]any
}
