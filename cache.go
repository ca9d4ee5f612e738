package opsdeck_streaming

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CachePriority is an eviction hint forwarded with every write.
type CachePriority string

const (
	PriorityLow    CachePriority = "low"
	PriorityNormal CachePriority = "normal"
	PriorityHigh   CachePriority = "high"
)

// CacheOptions qualify a single cache write.
type CacheOptions struct {
	TTL      time.Duration
	Tags     []string
	Priority CachePriority

	// Compress asks the cache to compress the stored payload. Forwarded
	// from the stream's compression hint; implementations may ignore it.
	Compress bool
}

// Cache persists flushed batches for later retrieval by the console. Tags
// recorded at write time support bulk invalidation.
type Cache interface {
	Set(ctx context.Context, key string, points []DataPoint, opts CacheOptions) error
	Get(ctx context.Context, key string) ([]DataPoint, bool, error)
	InvalidateTag(ctx context.Context, tag string) (int, error)
}

// cacheEntry is the stored envelope: the batch plus the write-time hints,
// so a reader can tell how fresh and how disposable an entry is.
type cacheEntry struct {
	Points   []DataPoint     `json:"points"`
	Tags     []string        `json:"tags,omitempty"`
	Priority CachePriority   `json:"priority,omitempty"`
	StoredAt MillisecondsUTC `json:"storedAt"`
}

// RedisCache stores batches as JSON values with a per-key TTL and keeps a
// set per tag as the invalidation index.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisCache wraps an existing Redis client. All keys are namespaced
// under the given prefix.
func NewRedisCache(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}

func (c *RedisCache) tagKey(tag string) string {
	return fmt.Sprintf("%s:tag:%s", c.keyPrefix, tag)
}

func (c *RedisCache) Set(ctx context.Context, key string, points []DataPoint, opts CacheOptions) error {
	entry := cacheEntry{
		Points:   points,
		Tags:     opts.Tags,
		Priority: opts.Priority,
		StoredAt: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}
	if opts.Compress {
		payload, err = gzipBytes(payload)
		if err != nil {
			return fmt.Errorf("compress cache entry %q: %w", key, err)
		}
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(key), payload, opts.TTL)
	for _, tag := range opts.Tags {
		pipe.SAdd(ctx, c.tagKey(tag), key)
		// Keep the tag index from outliving its members indefinitely.
		pipe.Expire(ctx, c.tagKey(tag), 2*opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]DataPoint, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read %q: %w", key, err)
	}

	// Compressed entries are self-describing via the gzip magic bytes.
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		data, err = gunzipBytes(data)
		if err != nil {
			return nil, false, fmt.Errorf("decompress cache entry %q: %w", key, err)
		}
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry %q: %w", key, err)
	}
	return entry.Points, true, nil
}

// InvalidateTag deletes every key recorded under the tag and the tag index
// itself, returning the number of entries removed.
func (c *RedisCache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	members, err := c.client.SMembers(ctx, c.tagKey(tag)).Result()
	if err != nil {
		return 0, fmt.Errorf("read tag index %q: %w", tag, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		keys = append(keys, c.key(member))
	}
	keys = append(keys, c.tagKey(tag))

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}

	c.logger.Debug("cache tag invalidated",
		zap.String("tag", tag),
		zap.Int64("deleted", deleted))
	return len(members), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// MemoryCache is a mutex-guarded in-process Cache for tests, examples, and
// deployments without Redis. Expiry is checked lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}
}

type memoryEntry struct {
	points    []DataPoint
	expiresAt time.Time
	priority  CachePriority
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCache) Set(_ context.Context, key string, points []DataPoint, opts CacheOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if opts.TTL > 0 {
		expiresAt = time.Now().Add(opts.TTL)
	}
	c.entries[key] = memoryEntry{
		points:    points,
		expiresAt: expiresAt,
		priority:  opts.Priority,
	}
	for _, tag := range opts.Tags {
		if c.tags[tag] == nil {
			c.tags[tag] = make(map[string]struct{})
		}
		c.tags[tag][key] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]DataPoint, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.points, true, nil
}

func (c *MemoryCache) InvalidateTag(_ context.Context, tag string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.tags[tag]
	removed := 0
	for key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	delete(c.tags, tag)
	return removed, nil
}

// Keys lists the cached keys, sorted for deterministic inspection.
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
