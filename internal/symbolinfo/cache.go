// Package symbolinfo caches per-venue symbol metadata (precisions, size
// limits, tick/step, fees) with TTL expiry and single-flight deduplication
// of concurrent fetches.
package symbolinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"multi-venue-trading-bot/internal/metrics"
	"multi-venue-trading-bot/internal/venue"
)

// ErrFetchFailed wraps any failure to obtain symbol metadata
var ErrFetchFailed = venue.ErrSymbolInfoFetch

// DefaultTTL gates cached entry validity when the caller does not override it
const DefaultTTL = time.Hour

// Options tune a single lookup
type Options struct {
	TTL          time.Duration
	ForceRefresh bool
}

// Cache is the symbol info cache for one venue.
type Cache struct {
	gateway venue.Gateway
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*venue.SymbolInfo

	flight singleflight.Group

	// Optional second-level cache; nil disables it. Failures degrade to
	// venue fetches, they never fail a lookup.
	redis    *redis.Client
	redisTTL time.Duration
}

// New creates a cache backed by the given venue gateway.
func New(gateway venue.Gateway, logger zerolog.Logger) *Cache {
	return &Cache{
		gateway: gateway,
		logger:  logger.With().Str("component", "symbolinfo").Str("venue", gateway.ID()).Logger(),
		entries: make(map[string]*venue.SymbolInfo),
	}
}

// WithRedis attaches a second-level Redis cache.
func (c *Cache) WithRedis(client *redis.Client, ttl time.Duration) *Cache {
	c.redis = client
	c.redisTTL = ttl
	return c
}

// GetSymbolInfo returns the cached entry when fresh, otherwise fetches via
// the gateway. Concurrent callers for the same symbol share one in-flight
// fetch; a failed flight is discarded so the next caller retries.
func (c *Cache) GetSymbolInfo(ctx context.Context, symbol string, opts Options) (*venue.SymbolInfo, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if !opts.ForceRefresh {
		if info := c.lookup(symbol, ttl); info != nil {
			metrics.CacheHits.Inc()
			return info, nil
		}
	}
	metrics.CacheMisses.Inc()

	v, err, _ := c.flight.Do(symbol, func() (interface{}, error) {
		// Re-check under the flight: a sibling may have just stored it.
		if !opts.ForceRefresh {
			if info := c.lookup(symbol, ttl); info != nil {
				return info, nil
			}
			if info := c.lookupRedis(ctx, symbol, ttl); info != nil {
				c.store(info)
				return info, nil
			}
		}
		info, err := c.fetch(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.store(info)
		c.storeRedis(ctx, info)
		return info, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, symbol, err)
	}
	return v.(*venue.SymbolInfo), nil
}

// GetMultiple fetches several symbols in parallel. Failed symbols are
// logged and omitted from the result; sibling fetches are never cancelled.
func (c *Cache) GetMultiple(ctx context.Context, symbols []string, opts Options) map[string]*venue.SymbolInfo {
	type res struct {
		symbol string
		info   *venue.SymbolInfo
	}
	ch := make(chan res, len(symbols))

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			info, err := c.GetSymbolInfo(ctx, s, opts)
			if err != nil {
				c.logger.Warn().Err(err).Str("symbol", s).Msg("Symbol info fetch failed, omitting")
				return
			}
			ch <- res{symbol: s, info: info}
		}(symbol)
	}
	wg.Wait()
	close(ch)

	out := make(map[string]*venue.SymbolInfo)
	for r := range ch {
		out[r.symbol] = r.info
	}
	return out
}

// ClearCache drops one symbol, or everything when symbol is empty.
func (c *Cache) ClearCache(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if symbol == "" {
		c.entries = make(map[string]*venue.SymbolInfo)
		return
	}
	delete(c.entries, symbol)
}

// RefreshCache force-refreshes the given symbols, or every cached symbol
// when none are given.
func (c *Cache) RefreshCache(ctx context.Context, symbols []string, ttl time.Duration) {
	if len(symbols) == 0 {
		c.mu.RLock()
		for s := range c.entries {
			symbols = append(symbols, s)
		}
		c.mu.RUnlock()
	}
	c.GetMultiple(ctx, symbols, Options{TTL: ttl, ForceRefresh: true})
}

func (c *Cache) lookup(symbol string, ttl time.Duration) *venue.SymbolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[symbol]
	if !ok {
		return nil
	}
	if time.Now().UnixMilli()-info.FetchTimestamp >= ttl.Milliseconds() {
		return nil
	}
	return info
}

func (c *Cache) store(info *venue.SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Atomic replacement; entries are never mutated in place.
	c.entries[info.Symbol] = info
}

func (c *Cache) fetch(ctx context.Context, symbol string) (*venue.SymbolInfo, error) {
	raw, err := c.gateway.GetMarketInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	info, err := Normalize(symbol, raw)
	if err != nil {
		return nil, err
	}
	info.FetchTimestamp = time.Now().UnixMilli()
	return info, nil
}

func (c *Cache) redisKey(symbol string) string {
	return fmt.Sprintf("symbolinfo:%s:%s", c.gateway.ID(), symbol)
}

func (c *Cache) lookupRedis(ctx context.Context, symbol string, ttl time.Duration) *venue.SymbolInfo {
	if c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(ctx, c.redisKey(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug().Err(err).Msg("Redis lookup failed, falling through to venue")
		}
		return nil
	}
	var info venue.SymbolInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	if time.Now().UnixMilli()-info.FetchTimestamp >= ttl.Milliseconds() {
		return nil
	}
	return &info
}

func (c *Cache) storeRedis(ctx context.Context, info *venue.SymbolInfo) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	ttl := c.redisTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.redis.Set(ctx, c.redisKey(info.Symbol), data, ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Redis store failed")
	}
}
