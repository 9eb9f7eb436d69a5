package audiocache

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(context.Background(), client, opts...), mr
}

func TestCache_MissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "es", "voice-1", "hola"); ok {
		t.Fatal("expected miss on empty cache")
	}

	audio := []byte{0xFF, 0x7F, 0x00}
	if err := c.Set(ctx, "es", "voice-1", "hola", audio, 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := c.Get(ctx, "es", "voice-1", "hola")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("got %v, want %v", got, audio)
	}
}

func TestCache_HitUpdatesAccessMetadata(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "es", "v", "hola", []byte("abc"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	key := "audio_cache:es:v:hola"
	first, err := strconv.ParseFloat(mr.HGet("audio_cache:info:es", key+":last_access"), 64)
	if err != nil {
		t.Fatalf("parse last_access: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(ctx, "es", "v", "hola"); !ok {
		t.Fatal("expected hit")
	}

	second, err := strconv.ParseFloat(mr.HGet("audio_cache:info:es", key+":last_access"), 64)
	if err != nil {
		t.Fatalf("parse last_access: %v", err)
	}
	if second <= first {
		t.Errorf("last_access did not advance: %v -> %v", first, second)
	}
	if pop := mr.HGet("audio_cache:info:es", key+":popularity"); pop != "2" {
		t.Errorf("popularity = %q, want 2 (set + hit)", pop)
	}
}

func TestCache_RewriteReplacesSize(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "en", "v", "hello", make([]byte, 100), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "en", "v", "hello", make([]byte, 40), 0); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	size, err := c.Size(ctx, "en")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 40 {
		t.Errorf("size counter = %d, want 40 after rewrite", size)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, WithBudget("en", 250))
	ctx := context.Background()

	if err := c.Set(ctx, "en", "v", "first", make([]byte, 100), 0); err != nil {
		t.Fatalf("set first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Set(ctx, "en", "v", "second", make([]byte, 100), 0); err != nil {
		t.Fatalf("set second: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Touch "first" so "second" becomes the LRU victim.
	if _, ok := c.Get(ctx, "en", "v", "first"); !ok {
		t.Fatal("expected hit on first")
	}
	time.Sleep(5 * time.Millisecond)

	// 100 + 100 + 100 > 250: something must go.
	if err := c.Set(ctx, "en", "v", "third", make([]byte, 100), 0); err != nil {
		t.Fatalf("set third: %v", err)
	}

	if _, ok := c.Get(ctx, "en", "v", "second"); ok {
		t.Error("second should have been evicted as LRU")
	}
	if _, ok := c.Get(ctx, "en", "v", "first"); !ok {
		t.Error("first was recently accessed and should survive")
	}
	if _, ok := c.Get(ctx, "en", "v", "third"); !ok {
		t.Error("third was just written and should be present")
	}

	size, err := c.Size(ctx, "en")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size > 250 {
		t.Errorf("size counter %d exceeds budget 250 after eviction", size)
	}
}

func TestCache_WarnOnlySkipsEviction(t *testing.T) {
	c, _ := newTestCache(t, WithBudget("en", 150), WithEvictionMode(WarnOnly))
	ctx := context.Background()

	if err := c.Set(ctx, "en", "v", "first", make([]byte, 100), 0); err != nil {
		t.Fatalf("set first: %v", err)
	}
	if err := c.Set(ctx, "en", "v", "second", make([]byte, 100), 0); err != nil {
		t.Fatalf("set second: %v", err)
	}

	// Over budget, but both entries must survive.
	for _, text := range []string{"first", "second"} {
		if _, ok := c.Get(ctx, "en", "v", text); !ok {
			t.Errorf("%s missing in warn-only mode", text)
		}
	}
}

func TestCache_UnknownLanguageUsesDefaultBucket(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "de", "v", "hallo", make([]byte, 10), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := mr.Get("audio_cache:size:default")
	if err != nil {
		t.Fatalf("get size counter: %v", err)
	}
	if got != "10" {
		t.Errorf("default size counter = %q, want 10", got)
	}
	if mr.Exists("audio_cache:size:de") {
		t.Error("unknown language must not get its own size counter")
	}
	// The data key keeps its real language.
	if !mr.Exists("audio_cache:de:v:hallo") {
		t.Error("data key missing under the language prefix")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, WithTTL(time.Minute))
	ctx := context.Background()

	if err := c.Set(ctx, "es", "v", "hola", []byte("x"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok := c.Get(ctx, "es", "v", "hola"); ok {
		t.Error("entry should have expired")
	}
}

func TestCache_Clear(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, text := range []string{"uno", "dos"} {
		if err := c.Set(ctx, "es", "v", text, make([]byte, 5), 0); err != nil {
			t.Fatalf("set %s: %v", text, err)
		}
	}
	if err := c.Set(ctx, "en", "v", "one", make([]byte, 5), 0); err != nil {
		t.Fatalf("set en: %v", err)
	}

	if err := c.Clear(ctx, "es"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, ok := c.Get(ctx, "es", "v", "uno"); ok {
		t.Error("spanish entry survived clear")
	}
	if got, _ := mr.Get("audio_cache:size:es"); got != "0" {
		t.Errorf("size counter = %q, want 0", got)
	}
	if mr.Exists("audio_cache:info:es") {
		t.Error("info hash should be gone after clear")
	}
	if _, ok := c.Get(ctx, "en", "v", "one"); !ok {
		t.Error("clear must not touch other languages")
	}
}

func TestCache_DisabledWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	ctx := context.Background()
	c := New(ctx, client)
	if !c.Disabled() {
		t.Fatal("cache should come up disabled when redis is unreachable")
	}

	if err := c.Set(ctx, "es", "v", "hola", []byte("x"), 0); err != nil {
		t.Errorf("disabled set must be a silent no-op, got %v", err)
	}
	if _, ok := c.Get(ctx, "es", "v", "hola"); ok {
		t.Error("disabled get must miss")
	}
}

func TestCache_Hooks(t *testing.T) {
	var hits, misses int
	var evicted int64
	c, _ := newTestCache(t,
		WithBudget("en", 100),
		WithHooks(Hooks{
			OnHit:   func(string) { hits++ },
			OnMiss:  func(string) { misses++ },
			OnEvict: func(_ string, freed int64) { evicted += freed },
		}),
	)
	ctx := context.Background()

	c.Get(ctx, "en", "v", "one")
	if err := c.Set(ctx, "en", "v", "one", make([]byte, 80), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Get(ctx, "en", "v", "one")
	time.Sleep(5 * time.Millisecond)
	if err := c.Set(ctx, "en", "v", "two", make([]byte, 80), 0); err != nil {
		t.Fatalf("set two: %v", err)
	}

	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", hits, misses)
	}
	if evicted != 80 {
		t.Errorf("evicted=%d bytes, want 80", evicted)
	}
}
