package urlcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return cache, s
}

func TestPutAndGet(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "videos/abc/clip.mp4", "https://signed.example/clip", time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	url, ok, err := cache.Get(ctx, "videos/abc/clip.mp4")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || url != "https://signed.example/clip" {
		t.Errorf("expected cached url, got ok=%v url=%q", ok, url)
	}
}

func TestGetMiss(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	_, ok, err := cache.Get(context.Background(), "videos/none")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown path")
	}
}

func TestEntryExpiresBeforeURL(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "videos/x", "https://signed.example/x", time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// cache entry lives margin less than the URL
	s.FastForward(31 * time.Second)
	_, ok, _ := cache.Get(ctx, "videos/x")
	if ok {
		t.Error("entry should expire before the underlying URL")
	}
}

func TestShortLivedURLNotCached(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "videos/y", "https://signed.example/y", 10*time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_, ok, _ := cache.Get(ctx, "videos/y")
	if ok {
		t.Error("URL inside the safety margin must not be cached")
	}
}

func TestInvalidate(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	_ = cache.Put(ctx, "videos/z", "https://signed.example/z", time.Hour)
	if err := cache.Invalidate(ctx, "videos/z"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	_, ok, _ := cache.Get(ctx, "videos/z")
	if ok {
		t.Error("invalidated entry should be gone")
	}
}
