package plm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

// CacheEntry is the trimmed item record stored in the shard store
// (spec.md §3 "Cache Entry"): only the essential fields survive, to fit
// the shard size budget.
type CacheEntry struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Revision      string `json:"revision"`
	IsAssembly    bool   `json:"is_assembly"`
	AssemblyType  string `json:"assembly_type"`
	CategoryName  string `json:"category_name"`
	LifecycleName string `json:"lifecycle_name"`
}

func (e CacheEntry) toItem() Item {
	return Item{
		ID:            e.ID,
		Number:        e.Number,
		Name:          e.Name,
		Description:   e.Description,
		Revision:      e.Revision,
		IsAssembly:    e.IsAssembly,
		AssemblyType:  e.AssemblyType,
		CategoryName:  e.CategoryName,
		LifecycleName: e.LifecycleName,
	}
}

func trimItem(it Item) CacheEntry {
	return CacheEntry{
		ID:            it.ID,
		Number:        it.Number,
		Name:          it.Name,
		Description:   it.Description,
		Revision:      it.Revision,
		IsAssembly:    it.IsAssembly,
		AssemblyType:  it.AssemblyType,
		CategoryName:  it.CategoryName,
		LifecycleName: it.LifecycleName,
	}
}

// manifest is the sharded-cache header (spec.md §4.4).
type manifest struct {
	Shards int `json:"shards"`
	Count  int `json:"count"`
}

// ShardStore is the size-bounded key-value substrate the item cache is
// split across. PropertyShardStore is the default (modeling the host
// property-store shards of spec.md §6); redisstore.Store is the
// optional second-tier shared backend (SPEC_FULL.md §3). Both honor the
// manifest/shard contract verbatim.
type ShardStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const (
	shardKeyPrefix  = "item_cache_"
	manifestKey     = secretstore.KeyCacheManifest
	maxShardBytes   = 90 * 1024 // stay under the 100KB host ceiling
	safetyEnvelope  = 4_000_000 // total serialized bytes across shards
	trimmedWarnSize = 2000      // minimum entries kept when safety envelope trips
)

// PropertyShardStore adapts a secretstore.Store (the host property
// store) to ShardStore; this is the default shard backend described in
// spec.md §4.4.
type PropertyShardStore struct{ store secretstore.Store }

// NewPropertyShardStore wraps a secretstore.Store as a ShardStore.
func NewPropertyShardStore(store secretstore.Store) *PropertyShardStore {
	return &PropertyShardStore{store: store}
}

func (p *PropertyShardStore) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.Get(ctx, key)
}
func (p *PropertyShardStore) Set(ctx context.Context, key, value string) error {
	return p.store.Set(ctx, key, value)
}
func (p *PropertyShardStore) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, key)
}
func (p *PropertyShardStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return p.store.Keys(ctx, prefix)
}

// ItemCache is the process-shared, size-bounded item cache of spec.md
// §4.4: a hashicorp/golang-lru/v2 front cache backed by a sharded
// ShardStore, with a manifest header.
type ItemCache struct {
	store  ShardStore
	front  *lru.Cache[string, CacheEntry]
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	loaded    bool
	byNumber  map[string]CacheEntry
	loadedAt  time.Time
}

// NewItemCache builds an ItemCache. frontSize <= 0 disables the LRU
// front cache; Lookup then reads only the in-memory map loaded from the
// shard store.
func NewItemCache(store ShardStore, frontSize int, ttl time.Duration, logger *slog.Logger) *ItemCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	var front *lru.Cache[string, CacheEntry]
	if frontSize > 0 {
		front, _ = lru.New[string, CacheEntry](frontSize)
	}
	return &ItemCache{store: store, front: front, ttl: ttl, logger: logger, byNumber: make(map[string]CacheEntry)}
}

// Lookup consults the front cache then the loaded shard map. It does not
// trigger I/O; callers needing a refresh-on-miss use API.GetItemByNumber.
func (c *ItemCache) Lookup(number string) (CacheEntry, bool) {
	if c.front != nil {
		if e, ok := c.front.Get(number); ok {
			return e, true
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || time.Since(c.loadedAt) > c.ttl {
		return CacheEntry{}, false
	}
	e, ok := c.byNumber[number]
	if ok && c.front != nil {
		c.front.Add(number, e)
	}
	return e, ok
}

// Load reads the manifest and, if present and shaped correctly,
// batch-fetches every shard and merges them. On any parse error, Load
// reports a miss rather than a partial cache (spec.md §4.4).
func (c *ItemCache) Load(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, manifestKey)
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransport, "reading cache manifest", err)
	}
	if !ok {
		return nil // cold cache, not an error
	}
	var m manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.logger.Warn("cache manifest unparsable, treating as cold", "error", err)
		return nil
	}

	merged := make(map[string]CacheEntry)
	for i := 0; i < m.Shards; i++ {
		shardKey := fmt.Sprintf("%s%d", shardKeyPrefix, i)
		shardRaw, ok, err := c.store.Get(ctx, shardKey)
		if err != nil {
			return syncerr.Wrap(syncerr.KindTransport, "reading cache shard", err)
		}
		if !ok {
			c.logger.Warn("cache shard missing, treating cache as cold", "shard", i)
			return nil
		}
		var entries []CacheEntry
		if err := json.Unmarshal([]byte(shardRaw), &entries); err != nil {
			c.logger.Warn("cache shard unparsable, treating cache as cold", "shard", i, "error", err)
			return nil
		}
		for _, e := range entries {
			merged[e.Number] = e
		}
	}
	if len(merged) != m.Count {
		c.logger.Warn("cache manifest count mismatch, treating as cold", "expected", m.Count, "actual", len(merged))
		return nil
	}

	c.mu.Lock()
	c.byNumber = merged
	c.loaded = true
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Save accumulates entries into shards by estimated serialized size and
// writes shards, then the manifest last, so a crash never leaves a
// dangling manifest pointing at missing shards (spec.md §9).
func (c *ItemCache) Save(ctx context.Context, entries map[string]CacheEntry) error {
	shards := bucketEntries(entries)
	for i, shard := range shards {
		data, err := json.Marshal(shard)
		if err != nil {
			return syncerr.Wrap(syncerr.KindTransport, "encoding cache shard", err)
		}
		shardKey := fmt.Sprintf("%s%d", shardKeyPrefix, i)
		if err := c.store.Set(ctx, shardKey, string(data)); err != nil {
			return syncerr.Wrap(syncerr.KindTransport, "writing cache shard", err)
		}
	}
	m := manifest{Shards: len(shards), Count: len(entries)}
	data, err := json.Marshal(m)
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransport, "encoding cache manifest", err)
	}
	if err := c.store.Set(ctx, manifestKey, string(data)); err != nil {
		return syncerr.Wrap(syncerr.KindTransport, "writing cache manifest", err)
	}

	c.mu.Lock()
	c.byNumber = entries
	c.loaded = true
	c.loadedAt = time.Now()
	c.mu.Unlock()
	if c.front != nil {
		c.front.Purge()
	}
	return nil
}

// bucketEntries packs entries into shards bounded by maxShardBytes,
// estimated by serialized size (spec.md §4.4).
func bucketEntries(entries map[string]CacheEntry) [][]CacheEntry {
	var shards [][]CacheEntry
	var current []CacheEntry
	currentSize := 0
	for _, e := range entries {
		data, _ := json.Marshal(e)
		sz := len(data) + 1
		if currentSize+sz > maxShardBytes && len(current) > 0 {
			shards = append(shards, current)
			current = nil
			currentSize = 0
		}
		current = append(current, e)
		currentSize += sz
	}
	if len(current) > 0 {
		shards = append(shards, current)
	}
	if len(shards) == 0 {
		shards = [][]CacheEntry{{}}
	}
	return shards
}

// Refresh re-lists every item via pagination, projects each to the
// trimmed schema, and Saves. If the total payload would exceed the
// safety envelope, the cache is trimmed to the first K entries with a
// warning log (spec.md §4.4).
func (c *ItemCache) Refresh(ctx context.Context, api *API) error {
	items, err := api.GetAllItems(ctx, 400)
	if err != nil {
		return err
	}
	entries := make(map[string]CacheEntry, len(items))
	totalBytes := 0
	trimmed := false
	for _, it := range items {
		e := trimItem(it)
		data, _ := json.Marshal(e)
		if totalBytes+len(data) > safetyEnvelope {
			if !trimmed {
				c.logger.Warn("item cache refresh exceeded safety envelope, trimming",
					"kept", len(entries), "total_items", len(items))
				trimmed = true
			}
			if len(entries) >= trimmedWarnSize {
				break
			}
		}
		entries[e.Number] = e
		totalBytes += len(data)
	}
	return c.Save(ctx, entries)
}

// Invalidate deletes every shard and the manifest.
func (c *ItemCache) Invalidate(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, manifestKey)
	if err == nil && ok {
		var m manifest
		if json.Unmarshal([]byte(raw), &m) == nil {
			for i := 0; i < m.Shards; i++ {
				_ = c.store.Delete(ctx, fmt.Sprintf("%s%d", shardKeyPrefix, i))
			}
		}
	}
	if err := c.store.Delete(ctx, manifestKey); err != nil {
		return syncerr.Wrap(syncerr.KindTransport, "deleting cache manifest", err)
	}
	c.mu.Lock()
	c.byNumber = make(map[string]CacheEntry)
	c.loaded = false
	c.mu.Unlock()
	if c.front != nil {
		c.front.Purge()
	}
	return nil
}

// Add upserts a single item into the cache (load, upsert, save). If the
// cache was never initialized, Add is a no-op — the next lookup miss
// triggers a full Refresh (spec.md §4.4).
func (c *ItemCache) Add(it Item) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if !loaded {
		return
	}
	c.mu.Lock()
	c.byNumber[it.Number] = trimItem(it)
	snapshot := make(map[string]CacheEntry, len(c.byNumber))
	for k, v := range c.byNumber {
		snapshot[k] = v
	}
	c.mu.Unlock()
	if c.front != nil {
		c.front.Add(it.Number, trimItem(it))
	}
	_ = c.Save(context.Background(), snapshot)
}

// Evict removes a single entry after an update, so the next lookup
// refreshes it rather than serving stale data.
func (c *ItemCache) Evict(number string) {
	c.mu.Lock()
	delete(c.byNumber, number)
	c.mu.Unlock()
	if c.front != nil {
		c.front.Remove(number)
	}
}

// ManifestConsistent reports whether the manifest count equals the sum
// of entry counts across shards, for the invariant in spec.md §3/§8.
func (c *ItemCache) ManifestConsistent(ctx context.Context) (bool, error) {
	raw, ok, err := c.store.Get(ctx, manifestKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil // no cache yet, vacuously consistent
	}
	var m manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return false, nil
	}
	total := 0
	for i := 0; i < m.Shards; i++ {
		shardRaw, ok, err := c.store.Get(ctx, fmt.Sprintf("%s%d", shardKeyPrefix, i))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		var entries []CacheEntry
		if err := json.Unmarshal([]byte(shardRaw), &entries); err != nil {
			return false, nil
		}
		total += len(entries)
	}
	return total == m.Count, nil
}
