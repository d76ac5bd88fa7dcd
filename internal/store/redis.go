package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/amm-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pools and holdings. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
//
// A stale pool snapshot is harmless: its version no longer matches, the
// conditional reserve write fails with model.ErrVersionConflict, the key
// is dropped, and the caller's retry reads through to the primary.
type CachedStore struct {
	Store // balances, audit, and listings pass straight through

	rdb redis.Cmdable
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.Store.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolCacheKey(p.ID), p)
	return nil
}

func (s *CachedStore) UpdateReserves(ctx context.Context, id string, expectedVersion int64, currency, token decimal.Decimal) (int64, error) {
	version, err := s.Store.UpdateReserves(ctx, id, expectedVersion, currency, token)
	// Invalidate on success and on conflict alike; next read re-populates.
	s.invalidate(ctx, poolCacheKey(id))
	return version, err
}

func (s *CachedStore) SetPoolStatus(ctx context.Context, id, status string) error {
	err := s.Store.SetPoolStatus(ctx, id, status)
	s.invalidate(ctx, poolCacheKey(id))
	return err
}

func (s *CachedStore) AdjustHolding(ctx context.Context, accountID, poolID string, delta decimal.Decimal) (decimal.Decimal, error) {
	qty, err := s.Store.AdjustHolding(ctx, accountID, poolID, delta)
	s.invalidate(ctx, holdingCacheKey(accountID, poolID))
	return qty, err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	if s.lookup(ctx, poolCacheKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	pool, err := s.Store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolCacheKey(id), pool)
	return pool, nil
}

func (s *CachedStore) GetHolding(ctx context.Context, accountID, poolID string) (*model.Holding, error) {
	var h model.Holding
	if s.lookup(ctx, holdingCacheKey(accountID, poolID), &h) {
		return &h, nil
	}

	h2, err := s.Store.GetHolding(ctx, accountID, poolID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, holdingCacheKey(accountID, poolID), h2)
	return h2, nil
}

// --- Cache helpers ---

// lookup decodes a cached value into dst. Any Redis failure counts as a
// miss; the primary stays authoritative.
func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Debug("cache write failed", "key", key, "error", err)
	}
}

// invalidate deletes a key, detached from ctx so that a cancelled caller
// cannot leave a stale entry behind.
func (s *CachedStore) invalidate(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

func poolCacheKey(id string) string             { return fmt.Sprintf("amm:pool:%s", id) }
func holdingCacheKey(acct, pool string) string { return fmt.Sprintf("amm:holding:%s:%s", acct, pool) }
