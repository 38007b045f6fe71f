package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errs.New(errs.KindConcurrencyConflict, "lock_not_obtained")

// Lease is a held lock. Release is safe to call more than once. Refresh
// extends the lease by ttl and fails with ErrNotObtained once it was lost.
type Lease interface {
	Key() string
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring leases on string keys.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Local is an in-process Locker used when no Redis address is configured.
type Local struct {
	mu    sync.Mutex
	held  map[string]localEntry
	now   func() time.Time
	token func() string
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocal() *Local {
	return &Local{
		held:  make(map[string]localEntry),
		now:   time.Now,
		token: uuid.NewString,
	}
}

func (l *Local) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrNotObtained.With("key %s", key)
	}
	token := l.token()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

func (l *Local) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[key]; ok && entry.token == token {
		delete(l.held, key)
	}
}

func (l *Local) refresh(key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.held[key]
	if !ok || entry.token != token || !now.Before(entry.expires) {
		return ErrNotObtained.With("key %s lost", key)
	}
	entry.expires = now.Add(ttl)
	l.held[key] = entry
	return nil
}

type localLease struct {
	owner *Local
	key   string
	token string
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Refresh(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return errInvalidTTL
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.owner.refresh(l.key, l.token, ttl)
}

func (l *localLease) Release(context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}

var (
	errEmptyKey   = errs.New(errs.KindValidation, "lock_key_empty")
	errInvalidTTL = errs.New(errs.KindValidation, "lock_ttl_invalid")
)

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	if ttl <= 0 {
		return errInvalidTTL
	}
	return nil
}
