// Package snapshot memoizes derived consumption snapshots per user.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"github.com/smallbiznis/kwhtracker/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTTL = 10 * time.Minute

// Cache stores JSON encoded snapshots keyed by user, generation and input fingerprint.
// Invalidate bumps the user's generation so older entries are never read again; they
// age out of bigcache on their own. A disabled Cache misses on every lookup.
type Cache struct {
	store   *bigcache.BigCache
	log     *zap.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	generations map[snowflake.ID]uint64
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Engine    *config.EngineConfigHolder
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

func New(p Params) (*Cache, error) {
	c, err := NewCache(p.Engine.Get().Snapshot, p.Log, p.Metrics)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}

func NewCache(cfg config.SnapshotConfig, log *zap.Logger, m *metrics.Metrics) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		log:         log.Named("snapshot.cache"),
		metrics:     m,
		generations: make(map[snowflake.ID]uint64),
	}
	if !cfg.Enabled {
		c.log.Info("snapshot cache disabled")
		return c, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	bcfg := bigcache.DefaultConfig(ttl)
	bcfg.Shards = 64
	bcfg.MaxEntriesInWindow = 10_000
	bcfg.MaxEntrySize = 4096
	bcfg.CleanWindow = ttl
	bcfg.HardMaxCacheSize = cfg.MaxSizeMB
	bcfg.Verbose = false

	store, err := bigcache.New(context.Background(), bcfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

// Get decodes the entry for (userID, fingerprint) into dst and reports whether it was found.
func (c *Cache) Get(ctx context.Context, userID snowflake.ID, fingerprint uint64, dst any) bool {
	if c == nil || c.store == nil {
		return false
	}

	raw, err := c.store.Get(c.key(userID, fingerprint))
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.log.Warn("snapshot lookup failed", zap.Error(err))
		}
		c.metrics.RecordSnapshotLookup(ctx, false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("snapshot decode failed", zap.String("user_id", userID.String()), zap.Error(err))
		c.metrics.RecordSnapshotLookup(ctx, false)
		return false
	}

	c.metrics.RecordSnapshotLookup(ctx, true)
	return true
}

func (c *Cache) Set(userID snowflake.ID, fingerprint uint64, value any) {
	if c == nil || c.store == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("snapshot encode failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if err := c.store.Set(c.key(userID, fingerprint), raw); err != nil {
		c.log.Warn("snapshot store failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Invalidate drops every snapshot of userID.
func (c *Cache) Invalidate(userID snowflake.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[userID]++
	c.mu.Unlock()
}

func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) key(userID snowflake.ID, fingerprint uint64) string {
	c.mu.Lock()
	gen := c.generations[userID]
	c.mu.Unlock()

	return userID.String() + "|" + strconv.FormatUint(gen, 10) + "|" + strconv.FormatUint(fingerprint, 16)
}
