package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"
)

// FilePersistentCache keeps cached answers in a YAML file so replies
// survive restarts, e.g. when replaying a scripted session.
type FilePersistentCache struct {
	store    map[string]cacheItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
}

// NewFilePersistentCache loads filePath if it exists. A missing file starts
// an empty cache; a corrupt one is an error.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string) (*FilePersistentCache, error) {
	c := &FilePersistentCache{
		store:    make(map[string]cacheItem),
		ttl:      defaultTTL,
		filePath: filePath,
	}
	if err := c.loadFromFile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FilePersistentCache) loadFromFile() error {
	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.store); err != nil {
		return fmt.Errorf("failed to decode cache file %s: %w", c.filePath, err)
	}
	if c.store == nil {
		c.store = make(map[string]cacheItem)
	}
	return nil
}

// saveToFile writes the store through a temporary file. Callers hold the lock.
func (c *FilePersistentCache) saveToFile() error {
	now := time.Now()
	live := make(map[string]cacheItem, len(c.store))
	for k, item := range c.store {
		if !item.expired(now) {
			live[k] = item
		}
	}
	data, err := yaml.Marshal(live)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.filePath), ".cache-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.filePath)
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (string, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return "", err
	}
	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()
	if !found {
		return "", notFound("cache item not found")
	}
	if item.expired(time.Now()) {
		log.Printf("Persistent cache item expired (key: %s)", key)
		return "", notFound("cache item expired")
	}
	return item.Value, nil
}

// Set adds or updates an item and persists the file.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store[key] = cacheItem{Value: value, Expiration: expiration(c.ttl)}
	if err := c.saveToFile(); err != nil {
		log.Printf("Failed to persist cache (path: %s, error: %v)", c.filePath, err)
		return fmt.Errorf("failed to persist cache: %w", err)
	}
	return nil
}
