package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-auction/internal/lock"
	"koi-auction/internal/querycache"
	"koi-auction/internal/saga"
	"koi-auction/pkg/logger"
)

// expiringLocker hands out leases with a TTL and counts renewals.
type expiringLocker struct {
	*lock.MemoryLocker
	ttl     time.Duration
	extends int32
}

func (l *expiringLocker) Acquire(ctx context.Context, owner string, keys ...string) (*lock.Lease, error) {
	lease, err := l.MemoryLocker.Acquire(ctx, owner, keys...)
	if err != nil {
		return nil, err
	}
	lease.TTL = l.ttl
	return lease, nil
}

func (l *expiringLocker) Extend(ctx context.Context, lease *lock.Lease) error {
	atomic.AddInt32(&l.extends, 1)
	return l.MemoryLocker.Extend(ctx, lease)
}

func TestMutationRunner_RenewsLocksDuringSlowSteps(t *testing.T) {
	log := logger.NewNop()
	locker := &expiringLocker{MemoryLocker: lock.NewMemoryLocker(), ttl: 30 * time.Millisecond}
	cache := querycache.NewClient(querycache.NewMemoryStore(), log)
	runner := NewMutationRunner(cache, locker, saga.NewRunner(saga.NewMemoryStore(), log), nil, nil, nil, log)

	res, err := runner.Execute(context.Background(), Mutation{
		Name:     "slow",
		LockKeys: []string{lock.AuctionKey("A1")},
		Steps: []saga.Step{{
			Name: stepAuction,
			Forward: func(ctx context.Context) error {
				time.Sleep(100 * time.Millisecond)
				return nil
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&locker.extends), int32(2))
	assert.False(t, locker.Held(lock.AuctionKey("A1")))
}

func TestMutationRunner_PrepareFailureReleasesLocks(t *testing.T) {
	h := newHarness(t)

	res, err := h.runner.Execute(context.Background(), Mutation{
		Name:     "prepare_fails",
		LockKeys: []string{lock.AuctionKey("A1")},
		Prepare: func(ctx context.Context, m *Mutation, lockMore LockFunc) error {
			require.NoError(t, lockMore(ctx, lock.KoiKey("K1")))
			assert.True(t, h.locker.Held(lock.AuctionKey("A1")))
			return assert.AnError
		},
		ErrorFallback: "Failed",
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.False(t, h.locker.Held(lock.AuctionKey("A1")))
	assert.False(t, h.locker.Held(lock.KoiKey("K1")))
	assert.Empty(t, h.remote.Calls())
}
