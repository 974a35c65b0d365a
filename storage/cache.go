package storage

import (
	"context"
	"fmt"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/singleflight"
	"github.com/janelia-flyem/mipmapper/dvid"
)

// DefaultCacheBytes is the cache size used when a non-positive size is requested.
const DefaultCacheBytes = 256 * dvid.Mega

// CachedStore wraps a Store with a bounded in-memory read cache.  Concurrent misses
// for the same key result in a single read of the underlying store.  Absent keys
// are not cached.
type CachedStore struct {
	store Store
	cache *freecache.Cache
	group singleflight.Group
}

// NewCachedStore returns a read-through, write-through cache of the given size in bytes.
func NewCachedStore(store Store, cacheBytes int) *CachedStore {
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	dvid.Infof("Caching store %s with %s freecache\n", store, humanize.Bytes(uint64(cacheBytes)))
	return &CachedStore{
		store: store,
		cache: freecache.NewCache(cacheBytes),
	}
}

func (c *CachedStore) String() string {
	return fmt.Sprintf("cached %s", c.store)
}

// Unwrap returns the underlying store.
func (c *CachedStore) Unwrap() Store {
	return c.store
}

func (c *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	k := []byte(NormalizeKey(key))
	if v, err := c.cache.Get(k); err == nil {
		if v == nil {
			v = []byte{}
		}
		return v, nil
	}
	v, err := c.group.Do(string(k), func() (interface{}, error) {
		value, err := c.store.Get(ctx, key)
		if err != nil || value == nil {
			return value, err
		}
		if err := c.cache.Set(k, value, 0); err != nil {
			dvid.Debugf("Not caching %s value for key %q: %v\n", humanize.Bytes(uint64(len(value))), k, err)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	value, _ := v.([]byte)
	if value == nil {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (c *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	k := []byte(NormalizeKey(key))
	c.cache.Del(k)
	if err := c.store.Set(ctx, key, value); err != nil {
		return err
	}
	if err := c.cache.Set(k, value, 0); err != nil {
		dvid.Debugf("Not caching %s value for key %q: %v\n", humanize.Bytes(uint64(len(value))), k, err)
	}
	return nil
}

// HitRate returns the fraction of cache lookups that were hits.
func (c *CachedStore) HitRate() float64 {
	return c.cache.HitRate()
}

// Close closes the underlying store.
func (c *CachedStore) Close() error {
	dvid.Infof("Closing cache with %d entries, hit rate %.3f\n", c.cache.EntryCount(), c.cache.HitRate())
	return Close(c.store)
}
