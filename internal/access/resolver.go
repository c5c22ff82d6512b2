package access

import (
	"context"
	"errors"
)

// Resolver turns a bearer token into a Credential. ErrNotFound means the
// token is unknown or must be treated as such.
type Resolver interface {
	Resolve(ctx context.Context, q CredentialLookup, token string) (Credential, error)
}

// DeviceTokenResolver resolves static per-device tokens. A deactivated device
// is surfaced as Inactive so the caller can answer DEVICE_INACTIVE; a
// deactivated owner account is indistinguishable from an unknown token.
type DeviceTokenResolver struct{}

func (DeviceTokenResolver) Resolve(ctx context.Context, q CredentialLookup, token string) (Credential, error) {
	if token == "" {
		return Credential{}, ErrNotFound
	}
	dev, acct, err := q.DeviceByToken(ctx, token)
	if err != nil {
		return Credential{}, err
	}
	if !acct.Active {
		return Credential{}, ErrNotFound
	}
	id := dev.ID
	return Credential{Account: acct, DeviceID: &id, Inactive: !dev.Active}, nil
}

// SessionTokenResolver resolves account-level session tokens. Inactive
// sessions and inactive accounts both resolve to ErrNotFound.
type SessionTokenResolver struct{}

func (SessionTokenResolver) Resolve(ctx context.Context, q CredentialLookup, token string) (Credential, error) {
	if token == "" {
		return Credential{}, ErrNotFound
	}
	sess, acct, err := q.SessionByToken(ctx, token)
	if err != nil {
		return Credential{}, err
	}
	if !sess.Active || !acct.Active {
		return Credential{}, ErrNotFound
	}
	return Credential{Account: acct}, nil
}

// ResolverFor returns the resolver for a credential mode name.
func ResolverFor(mode string) (Resolver, error) {
	switch mode {
	case "", "device":
		return DeviceTokenResolver{}, nil
	case "session":
		return SessionTokenResolver{}, nil
	}
	return nil, errors.New("access: unknown credential mode " + mode)
}
