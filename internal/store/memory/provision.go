package memory

import (
	"context"
	"fmt"

	"openway.dev/internal/access"
)

// UpsertGate inserts or updates a gate keyed by code.
func (s *Store) UpsertGate(ctx context.Context, g access.Gate) (access.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.gates[g.Code]; ok {
		g.ID = cur.ID
	} else {
		g.ID = s.id()
	}
	s.gates[g.Code] = g
	return g, nil
}

// UpsertAccount inserts or updates an account keyed by username.
func (s *Store) UpsertAccount(ctx context.Context, username string, active bool) (access.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUsername[username]; ok {
		a := s.accounts[id]
		a.Active = active
		return a.Account, nil
	}
	a := &account{Account: access.Account{ID: s.id(), Username: username, Active: active}}
	s.accounts[a.ID] = a
	s.byUsername[username] = a.ID
	return a.Account, nil
}

// UpsertGroup returns the id of the named group, creating it when missing.
func (s *Store) UpsertGroup(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.groups[name]; ok {
		return id, nil
	}
	id := s.id()
	s.groups[name] = id
	return id, nil
}

// AddMember puts an account in a group. Repeating it is a no-op.
func (s *Store) AddMember(ctx context.Context, accountID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("%w: %d", errUnknownAccount, accountID)
	}
	if s.members[groupID] == nil {
		s.members[groupID] = map[int64]bool{}
	}
	s.members[groupID][accountID] = true
	return nil
}

// UpsertDevice inserts or updates a device keyed by its token.
func (s *Store) UpsertDevice(ctx context.Context, d access.Device) (access.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[d.AccountID]; !ok {
		return access.Device{}, fmt.Errorf("%w: %d", errUnknownAccount, d.AccountID)
	}
	if cur, ok := s.devices[d.Token]; ok {
		d.ID = cur.ID
	} else {
		d.ID = s.id()
	}
	s.devices[d.Token] = d
	return d, nil
}

// UpsertSession inserts or updates a session token.
func (s *Store) UpsertSession(ctx context.Context, sess access.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[sess.AccountID]; !ok {
		return fmt.Errorf("%w: %d", errUnknownAccount, sess.AccountID)
	}
	s.sessions[sess.Token] = sess
	return nil
}

// UpsertGrant inserts or updates the grant for (gate, account, group).
func (s *Store) UpsertGrant(ctx context.Context, g access.Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey{gate: g.GateID}
	if g.AccountID != nil {
		k.account = *g.AccountID
	}
	if g.GroupID != nil {
		k.group = *g.GroupID
	}
	s.grants[k] = g
	return nil
}

// AccountByUsername looks an account up by name.
func (s *Store) AccountByUsername(ctx context.Context, username string) (access.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return access.Account{}, access.ErrNotFound
	}
	return s.accounts[id].Account, nil
}

// PasswordHistory returns up to limit recent hashes, newest first.
func (s *Store) PasswordHistory(ctx context.Context, accountID int64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, access.ErrNotFound
	}
	out := make([]string, 0, limit)
	for i := len(a.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.history[i])
	}
	return out, nil
}

// ChangePassword stores the new hash and records it in the history.
func (s *Store) ChangePassword(ctx context.Context, accountID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return access.ErrNotFound
	}
	a.passwordHash = hash
	a.history = append(a.history, hash)
	return nil
}

// PasswordHash returns the current hash of an account, empty when none is set.
func (s *Store) PasswordHash(ctx context.Context, accountID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return "", access.ErrNotFound
	}
	return a.passwordHash, nil
}
