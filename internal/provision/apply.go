package provision

import (
	"context"
	"fmt"

	"openway.dev/internal/access"
	"openway.dev/internal/accounts"
	"openway.dev/internal/obs"
)

// Store is the write side of the access model.
type Store interface {
	UpsertGate(ctx context.Context, g access.Gate) (access.Gate, error)
	UpsertAccount(ctx context.Context, username string, active bool) (access.Account, error)
	UpsertGroup(ctx context.Context, name string) (int64, error)
	AddMember(ctx context.Context, accountID, groupID int64) error
	UpsertDevice(ctx context.Context, d access.Device) (access.Device, error)
	UpsertSession(ctx context.Context, s access.Session) error
	UpsertGrant(ctx context.Context, g access.Grant) error
}

// PasswordSetter sets account passwords; *accounts.Service satisfies it.
type PasswordSetter interface {
	EnsurePassword(ctx context.Context, username, password string) (bool, error)
}

var _ PasswordSetter = (*accounts.Service)(nil)

// Summary counts what an Apply touched.
type Summary struct {
	Gates     int `json:"gates"`
	Groups    int `json:"groups"`
	Accounts  int `json:"accounts"`
	Devices   int `json:"devices"`
	Sessions  int `json:"sessions"`
	Grants    int `json:"grants"`
	Passwords int `json:"passwords"`
}

type Applier struct {
	store     Store
	passwords PasswordSetter
}

// NewApplier builds an Applier. passwords may be nil when the document
// carries no passwords.
func NewApplier(store Store, passwords PasswordSetter) *Applier {
	return &Applier{store: store, passwords: passwords}
}

// Apply upserts everything in doc. Running it twice yields the same state.
func (a *Applier) Apply(ctx context.Context, doc Document) (Summary, error) {
	var sum Summary
	if err := doc.Validate(); err != nil {
		return sum, err
	}

	gateIDs := map[string]int64{}
	for _, g := range doc.Gates {
		gate, err := a.store.UpsertGate(ctx, access.Gate{Code: g.Code, Name: g.Name, Location: g.Location})
		if err != nil {
			return sum, fmt.Errorf("gate %q: %w", g.Code, err)
		}
		gateIDs[g.Code] = gate.ID
		sum.Gates++
	}

	groupIDs := map[string]int64{}
	for _, g := range doc.Groups {
		id, err := a.store.UpsertGroup(ctx, g.Name)
		if err != nil {
			return sum, fmt.Errorf("group %q: %w", g.Name, err)
		}
		groupIDs[g.Name] = id
		sum.Groups++
	}

	accountIDs := map[string]int64{}
	for _, spec := range doc.Accounts {
		acct, err := a.store.UpsertAccount(ctx, spec.Username, enabled(spec.Active))
		if err != nil {
			return sum, fmt.Errorf("account %q: %w", spec.Username, err)
		}
		accountIDs[spec.Username] = acct.ID
		sum.Accounts++

		for _, g := range spec.Groups {
			if err := a.store.AddMember(ctx, acct.ID, groupIDs[g]); err != nil {
				return sum, fmt.Errorf("account %q group %q: %w", spec.Username, g, err)
			}
		}
		for _, d := range spec.Devices {
			_, err := a.store.UpsertDevice(ctx, access.Device{
				AccountID:       acct.ID,
				Name:            d.Name,
				AndroidDeviceID: d.AndroidDeviceID,
				Token:           d.Token,
				Active:          enabled(d.Active),
			})
			if err != nil {
				return sum, fmt.Errorf("account %q device %q: %w", spec.Username, d.Name, err)
			}
			sum.Devices++
		}
		for _, s := range spec.Sessions {
			if err := a.store.UpsertSession(ctx, access.Session{Token: s.Token, AccountID: acct.ID, Active: enabled(s.Active)}); err != nil {
				return sum, fmt.Errorf("account %q session: %w", spec.Username, err)
			}
			sum.Sessions++
		}
		if spec.Password != "" {
			if a.passwords == nil {
				return sum, fmt.Errorf("account %q: password given but no password service configured", spec.Username)
			}
			changed, err := a.passwords.EnsurePassword(ctx, spec.Username, spec.Password)
			if err != nil {
				return sum, fmt.Errorf("account %q password: %w", spec.Username, err)
			}
			if changed {
				sum.Passwords++
			}
		}
	}

	for _, g := range doc.Grants {
		grant := access.Grant{GateID: gateIDs[g.Gate], Allow: enabled(g.Allow)}
		if g.Account != "" {
			id := accountIDs[g.Account]
			grant.AccountID = &id
		}
		if g.Group != "" {
			id := groupIDs[g.Group]
			grant.GroupID = &id
		}
		if err := a.store.UpsertGrant(ctx, grant); err != nil {
			return sum, fmt.Errorf("grant on %q: %w", g.Gate, err)
		}
		sum.Grants++
	}

	obs.Info("provisioning applied", map[string]any{
		"gates":    sum.Gates,
		"groups":   sum.Groups,
		"accounts": sum.Accounts,
		"devices":  sum.Devices,
		"sessions": sum.Sessions,
		"grants":   sum.Grants,
	})
	return sum, nil
}
