package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "agrisubsidy:lock:"

// Redis backs leases with SET NX keys so several API replicas share them.
type Redis struct {
	client *redislock.Client
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: redislock.New(client)}
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}
	held, err := r.client.Obtain(ctx, keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained.With("key %s", key)
	}
	if err != nil {
		return nil, err
	}
	return &redisLease{key: key, lock: held}, nil
}

type redisLease struct {
	key  string
	lock *redislock.Lock
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return errInvalidTTL
	}
	err := l.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrNotObtained.With("key %s lost", l.key)
	}
	return err
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
