package lock

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalObtainIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	lease, err := l.Obtain(ctx, "batch:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "batch:1", lease.Key())

	_, err = l.Obtain(ctx, "batch:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)
	assert.Equal(t, errs.KindConcurrencyConflict, errs.KindOf(err))

	other, err := l.Obtain(ctx, "batch:2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := l.Obtain(ctx, "batch:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }

	stale, err := l.Obtain(ctx, "reconcile", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Obtain(ctx, "reconcile", time.Minute)
	require.NoError(t, err)

	// The expired holder must not drop the new lease.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Obtain(ctx, "reconcile", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, fresh.Release(ctx))
}

func TestLocalRefreshExtendsHeldLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.now = func() time.Time { return now }

	lease, err := l.Obtain(ctx, "disbursement:batch:1", time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Refresh(ctx, time.Minute))

	// Past the original expiry the refreshed lease still excludes others.
	now = now.Add(30 * time.Second)
	_, err = l.Obtain(ctx, "disbursement:batch:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, lease.Refresh(ctx, time.Minute), ErrNotObtained)

	taken, err := l.Obtain(ctx, "disbursement:batch:1", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Refresh(ctx, time.Minute), ErrNotObtained)
	require.NoError(t, taken.Release(ctx))
}

func TestObtainValidatesArguments(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	_, err := l.Obtain(ctx, "", time.Minute)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = l.Obtain(ctx, "k", 0)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
