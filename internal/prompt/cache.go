package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/kalambet/voicepad/internal/storage"
)

// CacheKeyPrefix prefixes the durable cache entry of each static document.
const CacheKeyPrefix = "prompt-content-"

// DefaultCacheTTL is how long a cached document is served before refetching.
const DefaultCacheTTL = time.Hour

// CacheKV is the durable storage behind the content cache.
type CacheKV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

type cacheEntry struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// CachedSource fronts a Source with an in-process cache and durable
// per-document entries that expire after the TTL.
type CachedSource struct {
	src    Source
	kv     CacheKV
	ttl    time.Duration
	mem    *gocache.Cache
	now    func() time.Time
	logger *zap.Logger
}

// CacheOption configures a CachedSource.
type CacheOption func(*CachedSource)

func WithCacheTTL(d time.Duration) CacheOption {
	return func(c *CachedSource) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *CachedSource) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheClock overrides the clock used to stamp and expire durable entries.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedSource) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCachedSource wraps src. kv may be nil to keep the cache in-process only.
func NewCachedSource(src Source, kv CacheKV, opts ...CacheOption) *CachedSource {
	c := &CachedSource{
		src:    src,
		kv:     kv,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mem = gocache.New(c.ttl, 10*time.Minute)
	return c
}

// Load returns the named document from cache, refetching when expired.
// Cache read and write failures are logged and fall through to the source.
func (c *CachedSource) Load(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	if v, ok := c.mem.Get(name); ok {
		return v.(string), nil
	}

	if content, ok := c.durable(name); ok {
		c.mem.Set(name, content, gocache.DefaultExpiration)
		return content, nil
	}

	content, err := c.src.Load(ctx, name)
	if err != nil {
		return "", err
	}

	c.mem.Set(name, content, gocache.DefaultExpiration)
	c.store(name, content)
	return content, nil
}

func (c *CachedSource) durable(name string) (string, bool) {
	if c.kv == nil {
		return "", false
	}
	key := CacheKeyPrefix + name

	raw, err := c.kv.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("reading prompt cache", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}

	var e cacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn("discarding corrupt prompt cache entry", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if c.now().Sub(time.UnixMilli(e.Timestamp)) > c.ttl {
		return "", false
	}
	return e.Content, true
}

func (c *CachedSource) store(name, content string) {
	if c.kv == nil {
		return
	}
	key := CacheKeyPrefix + name
	data, err := json.Marshal(cacheEntry{Content: content, Timestamp: c.now().UnixMilli()})
	if err == nil {
		err = c.kv.Set(key, string(data))
	}
	if err != nil {
		c.logger.Warn("writing prompt cache", zap.String("key", key), zap.Error(err))
	}
}

// Clear drops every cached document, in process and durable. It returns the
// number of durable entries removed.
func (c *CachedSource) Clear() (int, error) {
	c.mem.Flush()
	if c.kv == nil {
		return 0, nil
	}

	keys, err := c.kv.Keys(CacheKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing prompt cache: %w", err)
	}
	for _, k := range keys {
		if err := c.kv.Delete(k); err != nil {
			return 0, fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	c.logger.Info("cleared prompt cache", zap.Int("entries", len(keys)))
	return len(keys), nil
}
