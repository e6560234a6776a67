// Package cache stores inference answers and normalizations by key. All
// caches implement the dragonscale Cache interface and report misses and
// expired entries as not-found errors.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// InMemoryCache provides a simple thread-safe in-memory cache.
type InMemoryCache struct {
	store map[string]cacheItem
	mutex sync.RWMutex
	ttl   time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	Value      string `yaml:"value"`
	Expiration int64  `yaml:"expiration"`
}

func (i cacheItem) expired(now time.Time) bool {
	return i.Expiration > 0 && now.UnixNano() > i.Expiration
}

func expiration(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}

func notFound(msg string) error {
	return errbuilder.NotFoundErr(errbuilder.GenericErr(msg, nil))
}

// NewInMemoryCache creates a new in-memory cache with a default TTL. A
// non-positive TTL keeps entries forever.
func NewInMemoryCache(defaultTTL time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		store: make(map[string]cacheItem),
		ttl:   defaultTTL,
		done:  make(chan struct{}),
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Get retrieves an item from the cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) (string, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return "", err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return "", notFound("cache item not found")
	}
	if item.expired(time.Now()) {
		// Lazy cleanup happens in cleanupLoop.
		log.Printf("Cache item expired (key: %s)", key)
		return "", notFound("cache item expired")
	}
	return item.Value, nil
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{Value: value, Expiration: expiration(c.ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *InMemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}

func (c *InMemoryCache) purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now()
	for key, item := range c.store {
		if item.expired(now) {
			delete(c.store, key)
		}
	}
}
