package access

import "context"

// GateLookup finds a gate by its exact code.
type GateLookup interface {
	GateByCode(ctx context.Context, code string) (Gate, error)
}

// DeviceLookup finds a device token and its owner.
type DeviceLookup interface {
	DeviceByToken(ctx context.Context, token string) (Device, Account, error)
}

// SessionLookup finds a session token and its owner.
type SessionLookup interface {
	SessionByToken(ctx context.Context, token string) (Session, Account, error)
}

// CredentialLookup is what a Resolver may read.
type CredentialLookup interface {
	DeviceLookup
	SessionLookup
}

// GrantLookup answers whether any allow grant connects the account, directly
// or through one of its groups, to the gate. It must be a single existence
// check, not a materialized list.
type GrantLookup interface {
	GrantExists(ctx context.Context, gateID, accountID int64) (bool, error)
}

// AuditWriter persists audit events.
type AuditWriter interface {
	InsertAuditEvent(ctx context.Context, ev *AuditEvent) error
}

// Tx is the view of the store inside one verification transaction. A failed
// InsertAuditEvent must leave the transaction usable.
type Tx interface {
	GateLookup
	CredentialLookup
	GrantLookup
	AuditWriter
}

// Store runs verifications atomically and accepts standalone audit events
// for attempts that never reach the transaction.
type Store interface {
	AuditWriter
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
