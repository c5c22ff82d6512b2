// Package memory is an in-process store for tests and single-node demos.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"openway.dev/internal/access"
)

// Fault names accepted by SetFault.
const (
	FaultBegin   = "begin"
	FaultCommit  = "commit"
	FaultGate    = "gate"
	FaultDevice  = "device"
	FaultSession = "session"
	FaultGrant   = "grant"
	FaultAudit   = "audit"
)

type account struct {
	access.Account
	passwordHash string
	history      []string
}

type grantKey struct {
	gate, account, group int64
}

// Store keeps everything in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration, so verifications are serialized.
type Store struct {
	mu sync.Mutex

	nextID int64

	gates      map[string]access.Gate
	accounts   map[int64]*account
	byUsername map[string]int64
	groups     map[string]int64
	members    map[int64]map[int64]bool
	devices    map[string]access.Device
	sessions   map[string]access.Session
	grants     map[grantKey]access.Grant
	events     []access.AuditEvent

	faults map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		gates:      map[string]access.Gate{},
		accounts:   map[int64]*account{},
		byUsername: map[string]int64{},
		groups:     map[string]int64{},
		members:    map[int64]map[int64]bool{},
		devices:    map[string]access.Device{},
		sessions:   map[string]access.Session{},
		grants:     map[grantKey]access.Grant{},
		faults:     map[string]error{},
	}
}

// SetFault makes the named operation fail with err; nil clears it.
func (s *Store) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping always succeeds unless the begin fault is set.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.faults[FaultBegin]
}

// InTx runs fn with exclusive access. Audit events inserted by fn are kept
// only if fn returns nil and the commit fault is not set.
func (s *Store) InTx(ctx context.Context, fn func(tx access.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[FaultBegin]; err != nil {
		return err
	}
	tx := &txView{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.faults[FaultCommit]; err != nil {
		return err
	}
	s.events = append(s.events, tx.staged...)
	return nil
}

// InsertAuditEvent appends a standalone event.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *access.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faults[FaultAudit]; err != nil {
		return err
	}
	s.events = append(s.events, cloneEvent(*ev))
	return nil
}

// Events returns committed audit events in insertion order.
func (s *Store) Events() []access.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// DeleteAuditEventsBefore removes up to limit events created before cutoff,
// oldest first. limit <= 0 removes all of them.
func (s *Store) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx := make([]int, 0)
	for i, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.events[idx[a]].CreatedAt.Before(s.events[idx[b]].CreatedAt)
	})
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := s.events[:0:0]
	for i, ev := range s.events {
		if !drop[i] {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	return int64(len(idx)), nil
}

type txView struct {
	s      *Store
	staged []access.AuditEvent
}

func (t *txView) GateByCode(ctx context.Context, code string) (access.Gate, error) {
	if err := t.s.faults[FaultGate]; err != nil {
		return access.Gate{}, err
	}
	g, ok := t.s.gates[code]
	if !ok {
		return access.Gate{}, access.ErrNotFound
	}
	return g, nil
}

func (t *txView) DeviceByToken(ctx context.Context, token string) (access.Device, access.Account, error) {
	if err := t.s.faults[FaultDevice]; err != nil {
		return access.Device{}, access.Account{}, err
	}
	d, ok := t.s.devices[token]
	if !ok {
		return access.Device{}, access.Account{}, access.ErrNotFound
	}
	a, ok := t.s.accounts[d.AccountID]
	if !ok {
		return access.Device{}, access.Account{}, access.ErrNotFound
	}
	return d, a.Account, nil
}

func (t *txView) SessionByToken(ctx context.Context, token string) (access.Session, access.Account, error) {
	if err := t.s.faults[FaultSession]; err != nil {
		return access.Session{}, access.Account{}, err
	}
	sess, ok := t.s.sessions[token]
	if !ok {
		return access.Session{}, access.Account{}, access.ErrNotFound
	}
	a, ok := t.s.accounts[sess.AccountID]
	if !ok {
		return access.Session{}, access.Account{}, access.ErrNotFound
	}
	return sess, a.Account, nil
}

func (t *txView) GrantExists(ctx context.Context, gateID, accountID int64) (bool, error) {
	if err := t.s.faults[FaultGrant]; err != nil {
		return false, err
	}
	for k, g := range t.s.grants {
		if k.gate != gateID || !g.Allow {
			continue
		}
		if k.account == accountID {
			return true, nil
		}
		if k.group != 0 && t.s.members[k.group][accountID] {
			return true, nil
		}
	}
	return false, nil
}

func (t *txView) InsertAuditEvent(ctx context.Context, ev *access.AuditEvent) error {
	if err := t.s.faults[FaultAudit]; err != nil {
		return err
	}
	t.staged = append(t.staged, cloneEvent(*ev))
	return nil
}

func cloneEvent(ev access.AuditEvent) access.AuditEvent {
	if ev.Context != nil {
		c := make(map[string]any, len(ev.Context))
		for k, v := range ev.Context {
			c[k] = v
		}
		ev.Context = c
	}
	return ev
}

var errUnknownAccount = errors.New("memory: unknown account")
