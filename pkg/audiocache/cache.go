// Package audiocache memoizes synthesized speech in Redis so repeated phrases
// skip the TTS round-trip. Entries are keyed by (language, voice identifier,
// text) and live under a per-language byte budget enforced by LRU eviction.
package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a cached audio entry survives without a rewrite.
const DefaultTTL = 4 * time.Hour

// Default per-language byte budgets. Spanish carries most of the traffic and
// gets the larger share.
const (
	defaultBudget = 512 * 1024 * 1024
	spanishBudget = 1536 * 1024 * 1024
)

// EvictionMode selects how the cache behaves when a language bucket would
// exceed its budget.
type EvictionMode int

const (
	// EvictLRU deletes least-recently-accessed entries until the new item
	// fits. This is the normal operating mode.
	EvictLRU EvictionMode = iota

	// WarnOnly logs the overflow and stores the item anyway, leaving TTL
	// expiration as the only backstop. Meant for degraded operation.
	WarnOnly
)

// Hooks receives cache lifecycle notifications. All fields are optional.
type Hooks struct {
	OnHit   func(language string)
	OnMiss  func(language string)
	OnEvict func(language string, freed int64)
}

// Cache is a multi-language LRU audio cache backed by Redis.
//
// Layout per language bucket:
//
//	audio_cache:{lang}:{voice}:{text}  -> raw audio bytes (with TTL)
//	audio_cache:size:{lang}            -> total stored bytes
//	audio_cache:info:{lang}            -> hash of {key}:last_access,
//	                                      {key}:popularity, {key}:size
//
// Unknown languages fall into the "default" bucket for size accounting while
// keeping their own data key prefix.
//
// Operations are best-effort concurrent: the size counter may transiently
// drift by one in-flight entry per writer, which TTL expiration absorbs.
type Cache struct {
	client   redis.UniversalClient
	log      *slog.Logger
	ttl      time.Duration
	budgets  map[string]int64
	mode     EvictionMode
	hooks    Hooks
	disabled bool
}

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithBudget sets the byte budget for a language bucket.
func WithBudget(language string, maxBytes int64) Option {
	return func(c *Cache) {
		if maxBytes > 0 {
			c.budgets[language] = maxBytes
		}
	}
}

// WithEvictionMode selects the capacity strategy.
func WithEvictionMode(mode EvictionMode) Option {
	return func(c *Cache) { c.mode = mode }
}

// WithHooks installs lifecycle callbacks, typically metric counters.
func WithHooks(h Hooks) Option {
	return func(c *Cache) { c.hooks = h }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a cache over the given Redis client and verifies connectivity.
// If the initial PING fails the cache comes up disabled: every Get is a miss
// and every Set a no-op. Recovery requires a restart.
func New(ctx context.Context, client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		log:    slog.Default(),
		ttl:    DefaultTTL,
		budgets: map[string]int64{
			"es":      spanishBudget,
			"en":      defaultBudget,
			"pt":      defaultBudget,
			"fr":      defaultBudget,
			"default": defaultBudget,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		c.log.Warn("redis unreachable, audio cache disabled", "error", err)
		c.disabled = true
		return c
	}

	for language := range c.budgets {
		exists, err := client.Exists(ctx, c.sizeKey(language)).Result()
		if err != nil {
			c.log.Warn("audio cache size probe failed", "language", language, "error", err)
			continue
		}
		if exists == 0 {
			client.Set(ctx, c.sizeKey(language), 0, 0)
			client.Del(ctx, c.infoKey(language))
		}
	}
	return c
}

var (
	sharedOnce sync.Once
	sharedCache *Cache
)

// Shared returns the process-wide cache, creating it on first call. Later
// calls ignore their arguments and return the original instance.
func Shared(ctx context.Context, client redis.UniversalClient, opts ...Option) *Cache {
	sharedOnce.Do(func() {
		sharedCache = New(ctx, client, opts...)
	})
	return sharedCache
}

// Disabled reports whether the cache is operating as a no-op.
func (c *Cache) Disabled() bool { return c.disabled }

func (c *Cache) bucket(language string) string {
	if _, ok := c.budgets[language]; ok {
		return language
	}
	return "default"
}

func (c *Cache) sizeKey(language string) string {
	return "audio_cache:size:" + c.bucket(language)
}

func (c *Cache) infoKey(language string) string {
	return "audio_cache:info:" + c.bucket(language)
}

func (c *Cache) audioKey(language, voice, text string) string {
	return fmt.Sprintf("audio_cache:%s:%s:%s", language, voice, text)
}

func (c *Cache) maxSize(language string) int64 {
	if max, ok := c.budgets[language]; ok {
		return max
	}
	return c.budgets["default"]
}

// Get returns the cached audio for the triple, or ok=false on a miss. A hit
// refreshes the entry's last-access time and bumps its popularity counter.
// Backend errors degrade to a miss.
func (c *Cache) Get(ctx context.Context, language, voice, text string) ([]byte, bool) {
	if c.disabled {
		return nil, false
	}

	key := c.audioKey(language, voice, text)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("audio cache get failed", "key", key, "error", err)
		}
		if c.hooks.OnMiss != nil {
			c.hooks.OnMiss(language)
		}
		return nil, false
	}

	c.touch(ctx, key)
	if c.hooks.OnHit != nil {
		c.hooks.OnHit(language)
	}
	return data, true
}

// Set stores audio for the triple. A rewrite of an existing key first gives
// its old bytes back to the language counter. ttl <= 0 selects the default.
func (c *Cache) Set(ctx context.Context, language, voice, text string, audio []byte, ttl time.Duration) error {
	if c.disabled {
		c.log.Warn("audio cache disabled, dropping write", "language", language)
		return nil
	}

	key := c.audioKey(language, voice, text)

	if old, err := c.client.HGet(ctx, c.infoKey(language), key+":size").Result(); err == nil {
		if oldSize, perr := strconv.ParseInt(old, 10, 64); perr == nil {
			c.client.DecrBy(ctx, c.sizeKey(language), oldSize)
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("audiocache: read old size: %w", err)
	}

	size := int64(len(audio))
	if err := c.ensureCapacity(ctx, language, size); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, audio, ttl).Err(); err != nil {
		return fmt.Errorf("audiocache: store %q: %w", key, err)
	}

	c.touch(ctx, key)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, c.infoKey(language), key+":size", size)
	pipe.IncrBy(ctx, c.sizeKey(language), size)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("audiocache: account %q: %w", key, err)
	}
	return nil
}

// touch refreshes last-access time and increments the popularity counter.
func (c *Cache) touch(ctx context.Context, audioKey string) {
	parts := strings.SplitN(audioKey, ":", 3)
	if len(parts) < 3 {
		c.log.Error("malformed audio cache key", "key", audioKey)
		return
	}
	language := parts[1]

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, c.infoKey(language), audioKey+":last_access", float64(time.Now().UnixNano())/1e9)
	pipe.HIncrBy(ctx, c.infoKey(language), audioKey+":popularity", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("audio cache access update failed", "key", audioKey, "error", err)
	}
}

// lruEntry is one cached item's metadata assembled from the info hash.
type lruEntry struct {
	key        string
	lastAccess float64
	size       int64
}

// ensureCapacity makes room for a new item of the given size. In EvictLRU
// mode it deletes entries in ascending last-access order until the item fits;
// in WarnOnly mode it just logs the overflow.
func (c *Cache) ensureCapacity(ctx context.Context, language string, newSize int64) error {
	current, err := c.client.Get(ctx, c.sizeKey(language)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("audiocache: read size counter: %w", err)
	}

	max := c.maxSize(language)
	if current+newSize <= max {
		return nil
	}

	if c.mode == WarnOnly {
		c.log.Warn("audio cache over budget",
			"language", language, "current", current, "incoming", newSize, "max", max)
		return nil
	}

	needed := current + newSize - max
	entries, err := c.loadMetadata(ctx, language)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess < entries[j].lastAccess
	})

	var freed int64
	info := c.infoKey(language)
	for _, e := range entries {
		if freed >= needed {
			break
		}
		pipe := c.client.Pipeline()
		pipe.Del(ctx, e.key)
		pipe.HDel(ctx, info, e.key+":last_access", e.key+":popularity", e.key+":size")
		pipe.DecrBy(ctx, c.sizeKey(language), e.size)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("audiocache: evict %q: %w", e.key, err)
		}
		freed += e.size
	}

	if freed > 0 {
		c.log.Info("audio cache evicted entries",
			"language", language, "freed", freed, "needed", needed)
		if c.hooks.OnEvict != nil {
			c.hooks.OnEvict(language, freed)
		}
	}
	return nil
}

// loadMetadata reads the info hash for a language and folds the per-field
// rows back into per-entry records.
func (c *Cache) loadMetadata(ctx context.Context, language string) ([]lruEntry, error) {
	fields, err := c.client.HGetAll(ctx, c.infoKey(language)).Result()
	if err != nil {
		return nil, fmt.Errorf("audiocache: read metadata: %w", err)
	}

	byKey := make(map[string]*lruEntry)
	for field, value := range fields {
		idx := strings.LastIndex(field, ":")
		if idx < 0 {
			continue
		}
		key, attr := field[:idx], field[idx+1:]
		e, ok := byKey[key]
		if !ok {
			e = &lruEntry{key: key}
			byKey[key] = e
		}
		switch attr {
		case "last_access":
			e.lastAccess, _ = strconv.ParseFloat(value, 64)
		case "size":
			e.size, _ = strconv.ParseInt(value, 10, 64)
		}
	}

	entries := make([]lruEntry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, *e)
	}
	return entries, nil
}

// Clear drops every entry for a language and resets its accounting.
func (c *Cache) Clear(ctx context.Context, language string) error {
	if c.disabled {
		return nil
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("audio_cache:%s:*", language), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("audiocache: scan %q: %w", language, err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("audiocache: clear %q: %w", language, err)
		}
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.sizeKey(language), 0, 0)
	pipe.Del(ctx, c.infoKey(language))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("audiocache: reset accounting for %q: %w", language, err)
	}

	c.log.Info("audio cache cleared", "language", language)
	return nil
}

// Size returns the accounted byte total for a language bucket.
func (c *Cache) Size(ctx context.Context, language string) (int64, error) {
	if c.disabled {
		return 0, nil
	}
	n, err := c.client.Get(ctx, c.sizeKey(language)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("audiocache: read size counter: %w", err)
	}
	return n, nil
}
