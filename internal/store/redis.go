package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finsim/paper-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Saves go to the primary store and refresh the cache; loads check
// Redis first and fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) LoadSnapshot(ctx context.Context, accountID string) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(accountID)).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LoadSnapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, accountID, snap)
	return snap, nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, accountID string, snap *model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, accountID, snap); err != nil {
		// Drop any stale cache entry so reads fall back to the primary.
		s.rdb.Del(ctx, snapshotKey(accountID))
		return err
	}
	s.cacheSnapshot(ctx, accountID, snap)
	return nil
}

func (s *CachedStore) cacheSnapshot(ctx context.Context, accountID string, snap *model.Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey(accountID), data, s.ttl)
	}
}

func snapshotKey(accountID string) string { return fmt.Sprintf("account:%s", accountID) }
