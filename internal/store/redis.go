package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GigaChadds/gaave-core/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for per-user queries. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
// Price quotes are never cached here — staleness checks require a re-fetch.
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

// InsertEntry writes to the primary and invalidates the user's cached views.
func (s *CachedStore) InsertEntry(ctx context.Context, entry *model.VaultEntry) error {
	if err := s.primary.InsertEntry(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, entriesKey(entry.UserID), activityKey(entry.UserID))
	return nil
}

func (s *CachedStore) GetEntriesByUser(ctx context.Context, userID string) ([]model.VaultEntry, error) {
	data, err := s.rdb.Get(ctx, entriesKey(userID)).Bytes()
	if err == nil {
		var entries []model.VaultEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	// Cache miss: read from primary.
	entries, err := s.primary.GetEntriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, entriesKey(userID), data, s.ttl)
	}
	return entries, nil
}

func (s *CachedStore) GetUserActivity(ctx context.Context, userID string) (*model.ActivitySummary, error) {
	data, err := s.rdb.Get(ctx, activityKey(userID)).Bytes()
	if err == nil {
		var summary model.ActivitySummary
		if json.Unmarshal(data, &summary) == nil {
			return &summary, nil
		}
	}

	// Cache miss.
	summary, err := s.primary.GetUserActivity(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		s.rdb.Set(ctx, activityKey(userID), data, s.ttl)
	}
	return summary, nil
}

// GetEntriesByAsset is a passthrough; asset-wide scans are rare and not
// worth cache invalidation on every write.
func (s *CachedStore) GetEntriesByAsset(ctx context.Context, asset string) ([]model.VaultEntry, error) {
	return s.primary.GetEntriesByAsset(ctx, asset)
}

func entriesKey(uid string) string  { return fmt.Sprintf("entries:%s", uid) }
func activityKey(uid string) string { return fmt.Sprintf("activity:%s", uid) }
