package pg

import (
	"context"

	"openway.dev/internal/access"
)

func (s *Store) UpsertGate(ctx context.Context, g access.Gate) (access.Gate, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into gates(code, name, location)
		values ($1, $2, $3)
		on conflict (code) do update
		set name = excluded.name, location = excluded.location
		returning id
	`, g.Code, g.Name, g.Location).Scan(&g.ID)
	if err != nil {
		return access.Gate{}, mapErr(err)
	}
	return g, nil
}

func (s *Store) UpsertAccount(ctx context.Context, username string, active bool) (access.Account, error) {
	a := access.Account{Username: username, Active: active}
	err := s.db.QueryRowContext(ctx, `
		insert into accounts(username, is_active)
		values ($1, $2)
		on conflict (username) do update
		set is_active = excluded.is_active
		returning id
	`, username, active).Scan(&a.ID)
	if err != nil {
		return access.Account{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) UpsertGroup(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into groups(name)
		values ($1)
		on conflict (name) do update
		set name = excluded.name
		returning id
	`, name).Scan(&id)
	return id, mapErr(err)
}

func (s *Store) AddMember(ctx context.Context, accountID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into account_groups(account_id, group_id)
		values ($1, $2)
		on conflict do nothing
	`, accountID, groupID)
	return mapErr(err)
}

func (s *Store) UpsertDevice(ctx context.Context, d access.Device) (access.Device, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into devices(account_id, name, android_device_id, auth_token, is_active)
		values ($1, $2, $3, $4, $5)
		on conflict (auth_token) do update
		set account_id = excluded.account_id,
		    name = excluded.name,
		    android_device_id = excluded.android_device_id,
		    is_active = excluded.is_active
		returning id
	`, d.AccountID, d.Name, d.AndroidDeviceID, d.Token, d.Active).Scan(&d.ID)
	if err != nil {
		return access.Device{}, mapErr(err)
	}
	return d, nil
}

func (s *Store) UpsertSession(ctx context.Context, sess access.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into session_tokens(token, account_id, is_active)
		values ($1, $2, $3)
		on conflict (token) do update
		set account_id = excluded.account_id, is_active = excluded.is_active
	`, sess.Token, sess.AccountID, sess.Active)
	return mapErr(err)
}

// UpsertGrant relies on the grants unique index treating NULLs as equal.
func (s *Store) UpsertGrant(ctx context.Context, g access.Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into grants(gate_id, account_id, group_id, allow)
		values ($1, $2, $3, $4)
		on conflict (gate_id, account_id, group_id) do update
		set allow = excluded.allow
	`, g.GateID, nullID(g.AccountID), nullID(g.GroupID), g.Allow)
	return mapErr(err)
}
