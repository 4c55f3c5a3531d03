// Package cache stores rendered artifacts (overlay PNGs, legends, hex-bin
// GeoJSON) in an in-process LRU tier backed by an optional shared tier.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/flowmap/internal/core/observability"
)

// Interface is the shared tier; redisstore.Client implements it.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Config struct {
	LRUSize   int
	TTL       time.Duration
	OpTimeout time.Duration
}

const (
	tierLRU   = "lru"
	tierRedis = "redis"
)

// Tiered is safe for concurrent use. Shared tier failures are logged and
// treated as misses; they never fail a request.
type Tiered struct {
	local     *expirable.LRU[string, []byte]
	remote    Interface
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// New builds a cache; remote may be nil.
func New(cfg Config, remote Interface, logger *slog.Logger) *Tiered {
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 128
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{
		local:     expirable.NewLRU[string, []byte](cfg.LRUSize, nil, cfg.TTL),
		remote:    remote,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		logger:    logger,
	}
}

func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		observability.IncCacheHit(tierLRU)
		return v, true
	}
	observability.IncCacheMiss(tierLRU)
	if c.remote == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	v, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache get failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss(tierRedis)
		return nil, false
	}
	observability.IncCacheHit(tierRedis)
	c.local.Add(key, v)
	return v, true
}

func (c *Tiered) Set(ctx context.Context, key string, val []byte) {
	c.local.Add(key, val)
	if c.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.remote.Set(ctx, key, val, c.ttl); err != nil {
		c.logger.Warn("shared cache set failed", "key", key, "err", err)
	}
}

// Purge drops every entry whose key starts with prefix from both tiers and
// returns the number of local entries removed.
func (c *Tiered) Purge(ctx context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range c.local.Keys() {
		if strings.HasPrefix(k, prefix) && c.local.Remove(k) {
			n++
		}
	}
	if c.remote == nil {
		return n, nil
	}
	removed, err := c.remote.DelPrefix(ctx, prefix)
	if err != nil {
		return n, err
	}
	c.logger.Info("cache purged", "prefix", prefix, "local", n, "shared", removed)
	return n, nil
}

func (c *Tiered) Len() int { return c.local.Len() }
