package pg

import (
	"context"

	"openway.dev/internal/access"
)

func (s *Store) AccountByUsername(ctx context.Context, username string) (access.Account, error) {
	a := access.Account{Username: username}
	err := s.db.QueryRowContext(ctx, `
		select id, is_active from accounts where username = $1
	`, username).Scan(&a.ID, &a.Active)
	if err != nil {
		return access.Account{}, mapErr(err)
	}
	return a, nil
}

// PasswordHash returns the current hash, empty when none was ever set.
func (s *Store) PasswordHash(ctx context.Context, accountID int64) (string, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `
		select password_hash from accounts where id = $1
	`, accountID).Scan(&h)
	if err != nil {
		return "", mapErr(err)
	}
	return h, nil
}

// PasswordHistory returns up to limit hashes, newest first.
func (s *Store) PasswordHistory(ctx context.Context, accountID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select password_hash
		from password_history
		where account_id = $1
		order by created_at desc, id desc
		limit $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// ChangePassword sets the account hash and appends it to the history in one
// transaction.
func (s *Store) ChangePassword(ctx context.Context, accountID int64, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update accounts set password_hash = $2, password_changed_at = now() where id = $1
	`, accountID, hash)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return access.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_history(account_id, password_hash) values ($1, $2)
	`, accountID, hash); err != nil {
		return mapErr(err)
	}
	return tx.Commit()
}
