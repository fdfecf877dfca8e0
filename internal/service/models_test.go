package service

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestModelCachePrimesInline(t *testing.T) {
	gen := &fakeGenerator{models: []string{"llama3.2:3b", "qwen2.5:7b"}}
	cache := NewModelCache(gen, time.Minute)

	got := cache.Models(context.Background())
	if !reflect.DeepEqual(got, gen.models) {
		t.Fatalf("expected %v, got %v", gen.models, got)
	}
}

func TestModelCacheServesCachedWithinTTL(t *testing.T) {
	gen := &fakeGenerator{models: []string{"llama3.2:3b"}}
	cache := NewModelCache(gen, time.Minute)
	ctx := context.Background()

	cache.Models(ctx)
	gen.mu.Lock()
	gen.models = []string{"changed"}
	gen.mu.Unlock()

	got := cache.Models(ctx)
	if len(got) != 1 || got[0] != "llama3.2:3b" {
		t.Errorf("expected cached list within TTL, got %v", got)
	}
}

func TestModelCacheRefreshesWhenStale(t *testing.T) {
	gen := &fakeGenerator{models: []string{"old"}}
	cache := NewModelCache(gen, time.Nanosecond)
	ctx := context.Background()

	cache.Models(ctx)
	gen.mu.Lock()
	gen.models = []string{"new"}
	gen.mu.Unlock()

	// stale read returns the old list but kicks off a background refresh
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := cache.Models(ctx)
		if len(got) == 1 && got[0] == "new" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("cache never refreshed after going stale")
}
