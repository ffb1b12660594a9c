// Package lock provides per-entity advisory locks. A mutation holds the locks of
// every entity it touches; a second mutation on a held entity is rejected.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"koi-auction/internal/domain"
	"koi-auction/pkg/utils"
)

type Locker interface {
	// Acquire takes every key or none of them. A held key fails with domain.ErrLocked.
	Acquire(ctx context.Context, owner string, keys ...string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
	// Extend renews a lease that expires. It fails with domain.ErrLocked once the
	// lease is no longer held.
	Extend(ctx context.Context, lease *Lease) error
}

type Lease struct {
	Keys       []string
	Owner      string
	Token      string
	AcquiredAt time.Time
	// TTL is zero for leases that never expire.
	TTL time.Duration
}

func AuctionKey(id string) string { return "auction:" + id }

func KoiKey(id string) string { return "koi:" + id }

// Normalize sorts and dedupes keys so that multi-key acquisition has a fixed order.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func NewLease(owner string, keys []string) *Lease {
	return &Lease{
		Keys:       keys,
		Owner:      owner,
		Token:      utils.GenerateID("lease"),
		AcquiredAt: time.Now(),
	}
}

type holder struct {
	owner string
	token string
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]holder
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]holder)}
}

func (l *MemoryLocker) Acquire(_ context.Context, owner string, keys ...string) (*Lease, error) {
	keys = Normalize(keys)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range keys {
		if h, ok := l.held[k]; ok {
			return nil, fmt.Errorf("%w: %s held by %s", domain.ErrLocked, k, h.owner)
		}
	}

	lease := NewLease(owner, keys)
	for _, k := range keys {
		l.held[k] = holder{owner: owner, token: lease.Token}
	}
	return lease, nil
}

// Release drops the keys still held under lease's token. Releasing twice is harmless.
func (l *MemoryLocker) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range lease.Keys {
		if h, ok := l.held[k]; ok && h.token == lease.Token {
			delete(l.held, k)
		}
	}
	return nil
}

// Extend checks that lease is still held; memory leases do not expire.
func (l *MemoryLocker) Extend(_ context.Context, lease *Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range lease.Keys {
		if h, ok := l.held[k]; !ok || h.token != lease.Token {
			return fmt.Errorf("%w: %s no longer held by %s", domain.ErrLocked, k, lease.Owner)
		}
	}
	return nil
}

func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
