// Package querycache holds the gateway's cached read-models. Every entry is owned
// by a Store; callers receive Snapshot values that carry their own copy of the
// bytes, never a reference into the store.
package querycache

import (
	"context"
	"time"

	"koi-auction/internal/domain"
)

// Snapshot is a by-value copy of one cache entry.
type Snapshot struct {
	Key       domain.QueryKey
	Data      []byte
	Present   bool
	Stale     bool
	Version   uint64
	UpdatedAt time.Time
}

// Fresh reports whether the entry can be served without a refetch.
func (s Snapshot) Fresh() bool {
	return s.Present && !s.Stale
}

// FetchToken ties a network read to the fetch generation it started under.
type FetchToken struct {
	Key        domain.QueryKey
	Generation uint64
}

type Store interface {
	Get(ctx context.Context, key domain.QueryKey) (Snapshot, error)
	Set(ctx context.Context, key domain.QueryKey, data []byte) error
	// SetIfPresent writes fresh data only when the key already holds a value.
	SetIfPresent(ctx context.Context, key domain.QueryKey, data []byte) (bool, error)
	// Restore puts a snapshot back verbatim. A snapshot of a missing key deletes it.
	Restore(ctx context.Context, snap Snapshot) error
	// Invalidate marks every entry under prefix stale and returns how many changed.
	// Reads of those keys already in flight are superseded as by CancelFetches.
	Invalidate(ctx context.Context, prefix domain.QueryKey) (int, error)
	// CancelFetches bumps the key's fetch generation so in-flight reads cannot land.
	CancelFetches(ctx context.Context, key domain.QueryKey) error
	BeginFetch(ctx context.Context, key domain.QueryKey) (FetchToken, error)
	// CompleteFetch stores data as fresh unless the generation moved since BeginFetch.
	CompleteFetch(ctx context.Context, token FetchToken, data []byte) (bool, error)
}
