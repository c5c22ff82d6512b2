// Package accounts manages account passwords with a reuse history.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"openway.dev/internal/access"
)

const (
	DefaultHistorySize = 5
	DefaultMinLength   = 8
)

var (
	ErrPasswordTooShort = errors.New("accounts: password too short")
	ErrPasswordReused   = errors.New("accounts: password was used recently")
)

// Store is the persistence the service needs.
type Store interface {
	AccountByUsername(ctx context.Context, username string) (access.Account, error)
	PasswordHash(ctx context.Context, accountID int64) (string, error)
	PasswordHistory(ctx context.Context, accountID int64, limit int) ([]string, error)
	ChangePassword(ctx context.Context, accountID int64, hash string) error
}

type Service struct {
	store       Store
	historySize int
	minLength   int
	cost        int
}

type Option func(*Service)

// WithHistorySize sets how many previous passwords are refused.
func WithHistorySize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		historySize: DefaultHistorySize,
		minLength:   DefaultMinLength,
		cost:        bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPassword replaces the password of username. Any of the last
// historySize passwords is refused with ErrPasswordReused.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username", access.ErrNotFound)
	}
	if utf8.RuneCountInString(password) < s.minLength {
		return fmt.Errorf("%w: need at least %d characters", ErrPasswordTooShort, s.minLength)
	}
	acct, err := s.store.AccountByUsername(ctx, username)
	if err != nil {
		return err
	}
	recent, err := s.store.PasswordHistory(ctx, acct.ID, s.historySize)
	if err != nil {
		return err
	}
	for _, h := range recent {
		if VerifyPassword(h, password) == nil {
			return ErrPasswordReused
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	return s.store.ChangePassword(ctx, acct.ID, string(hash))
}

// EnsurePassword makes password the current one. It reports false when it
// already was; a password that only matches an older entry is still refused
// with ErrPasswordReused.
func (s *Service) EnsurePassword(ctx context.Context, username, password string) (bool, error) {
	acct, err := s.store.AccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return false, err
	}
	current, err := s.store.PasswordHash(ctx, acct.ID)
	if err != nil {
		return false, err
	}
	if current != "" && VerifyPassword(current, password) == nil {
		return false, nil
	}
	if err := s.SetPassword(ctx, username, password); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
