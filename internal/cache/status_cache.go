package cache

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eko/gocache/lib/v4/codec"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/flexquest/flexquest/internal/config"
	"github.com/flexquest/flexquest/internal/diagnostics"
)

// Cache key prefixes.
const (
	SnapshotCachePrefix = "status-"
)

// LatestSnapshotKey is the key of the most recent backend snapshot.
const LatestSnapshotKey = "latest"

// StatusCache holds the snapshots produced by the health refresh job.
type StatusCache struct {
	Snapshots *PrefixedCache[diagnostics.Snapshot]
	ttl       time.Duration
}

// NewStatusCache creates the status cache. A zero ttl keeps snapshots until
// they are overwritten.
func NewStatusCache(cfg *config.CacheConfig, ttl time.Duration) *StatusCache {
	return &StatusCache{
		Snapshots: NewPrefixedCache[diagnostics.Snapshot](
			newCacheInstanceByType(cfg),
			cfg.Type,
			SnapshotCachePrefix,
		),
		ttl: ttl,
	}
}

// StoreSnapshot replaces the latest snapshot.
func (s *StatusCache) StoreSnapshot(ctx context.Context, snap *diagnostics.Snapshot) error {
	var opts []store.Option
	if s.ttl > 0 {
		opts = append(opts, store.WithExpiration(s.ttl))
	}
	return s.Snapshots.Set(ctx, LatestSnapshotKey, *snap, opts...)
}

// LatestSnapshot returns the latest snapshot, or nil on a cache miss.
func (s *StatusCache) LatestSnapshot(ctx context.Context) (*diagnostics.Snapshot, error) {
	snap, err := s.Snapshots.Get(ctx, LatestSnapshotKey)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// ClearAll deletes the cached snapshots and nothing else.
func (s *StatusCache) ClearAll(ctx context.Context) {
	if err := s.Snapshots.Delete(ctx, LatestSnapshotKey); err != nil && !IsNotFound(err) {
		log.Errorf("failed to clear cache: %v", err)
	}
}

type Stats struct {
	*codec.Stats
	CacheName string `json:"cacheName"`
}

func (s *StatusCache) GetStats() []*Stats {
	return []*Stats{
		{
			Stats:     s.Snapshots.GetStats(),
			CacheName: "status",
		},
	}
}
