package tts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/altavoz-ai/altavoz/pkg/audiocache"
)

// CachedProvider wraps a Provider with the shared audio cache. Hits skip the
// backend entirely; misses tee the synthesized stream into a buffer and write
// the assembled audio through once the stream completes.
type CachedProvider struct {
	backend Provider
	cache   *audiocache.Cache
	log     *slog.Logger
}

// NewCached wraps backend with cache. A nil cache disables memoization and
// passes every request straight through.
func NewCached(backend Provider, cache *audiocache.Cache, log *slog.Logger) *CachedProvider {
	if log == nil {
		log = slog.Default()
	}
	return &CachedProvider{backend: backend, cache: cache, log: log}
}

// Synthesize implements Provider.
func (c *CachedProvider) Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error) {
	key := strings.TrimSpace(text)
	if c.cache == nil || key == "" {
		return c.backend.Synthesize(ctx, text, voice)
	}

	if data, ok := c.cache.Get(ctx, voice.Language, voice.Identifier(), key); ok {
		ch := make(chan []byte, 1)
		ch <- data
		close(ch)
		return ch, nil
	}

	inner, err := c.backend.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)

		var buf []byte
		complete := true
		for chunk := range inner {
			buf = append(buf, chunk...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				complete = false
				// Keep draining so the backend goroutine can exit.
				for range inner {
				}
			}
		}

		// Only a fully synthesized utterance is worth caching; a stream cut
		// by cancellation would poison later hits.
		if complete && len(buf) > 0 {
			if err := c.cache.Set(ctx, voice.Language, voice.Identifier(), key, buf, 0); err != nil {
				c.log.Warn("audio cache write-through failed", "error", err)
			}
		}
	}()
	return out, nil
}

// Ensure CachedProvider implements Provider at compile time.
var _ Provider = (*CachedProvider)(nil)
