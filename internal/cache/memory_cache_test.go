package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryCache_Lookup(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		key     string
		set     bool
		wait    time.Duration
		wantErr bool
	}{
		{name: "hit", ttl: time.Second, key: "normalize:a few", set: true},
		{name: "miss", ttl: time.Second, key: "normalize:many", wantErr: true},
		{name: "expired", ttl: 20 * time.Millisecond, key: "sequence:get screws", set: true, wait: 30 * time.Millisecond, wantErr: true},
		{name: "no ttl keeps entries", ttl: 0, key: "fill:length", set: true, wait: 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewInMemoryCache(tt.ttl)
			defer c.Close()
			ctx := context.Background()
			if tt.set {
				if err := c.Set(ctx, tt.key, "3"); err != nil {
					t.Fatalf("Set failed: %v", err)
				}
			}
			time.Sleep(tt.wait)
			got, err := c.Get(ctx, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected a miss, got %q", got)
				}
				return
			}
			if err != nil || got != "3" {
				t.Errorf("Get = %q, %v", got, err)
			}
		})
	}
}

func TestInMemoryCache_ParallelNormalizations(t *testing.T) {
	c := NewInMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("normalize:%d", i%4)
			if err := c.Set(ctx, key, fmt.Sprint(i%4)); err != nil {
				t.Errorf("Set failed: %v", err)
			}
			if _, err := c.Get(ctx, key); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 4 {
		t.Errorf("Len = %d, want 4", c.Len())
	}
}

func TestInMemoryCache_Purge(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "forever", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	c.store["stale"] = cacheItem{Value: "old", Expiration: time.Now().Add(-time.Second).UnixNano()}
	c.purge()
	if c.Len() != 1 {
		t.Errorf("only the entry without TTL may survive, got %d", c.Len())
	}
}

func TestInMemoryCache_CancelledContext(t *testing.T) {
	c := NewInMemoryCache(time.Second)
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, "k", "v"); err == nil {
		t.Error("Set must fail on a cancelled context")
	}
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Error("Get must fail on a cancelled context")
	}
}
