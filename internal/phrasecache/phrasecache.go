// Package phrasecache pre-synthesises the waiter's most common opening
// phrases at startup. When a reply starts with a cached phrase its audio goes
// out instantly while synthesis of the remainder runs behind it.
package phrasecache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ordervox/ordervox/pkg/provider/tts"
)

// CommonPhrases are the starters worth caching. Longer phrases buy more time
// for the rest of the reply to synthesise.
var CommonPhrases = []string{
	"Hoş geldiniz! Size nasıl yardımcı olabilirim?",
	"Peki, hemen halledelim!",
	"Anladım, bir bakayım sizin için.",
	"Tabii ki, hemen önerebileceğim güzel seçenekler var.",
	"Bir dakika lütfen, menüye bakıyorum.",
	"Güzel bir seçim! Hemen ekliyorum.",
	"Tabii, hemen sepetinize ekliyorum!",
	"Bakalım sizin için neler var.",
}

// warmGap spaces the startup synthesis calls so they do not trip the
// upstream rate limit.
const warmGap = 500 * time.Millisecond

// Cache holds pre-synthesised PCM per phrase. Safe for concurrent use.
type Cache struct {
	provider tts.Provider
	phrases  []string

	mu    sync.RWMutex
	audio map[string][]byte // phrase -> PCM16
}

// New creates an empty cache over the given synthesiser.
func New(provider tts.Provider) *Cache {
	return &Cache{
		provider: provider,
		phrases:  CommonPhrases,
		audio:    make(map[string][]byte),
	}
}

// Warm synthesises every phrase sequentially. Failures are logged and
// skipped; a partly warmed cache still serves hits.
func (c *Cache) Warm(ctx context.Context) {
	start := time.Now()
	var ok int
	for i, phrase := range c.phrases {
		if i > 0 {
			select {
			case <-time.After(warmGap):
			case <-ctx.Done():
				return
			}
		}
		pcm, err := c.synthesise(ctx, phrase)
		if err != nil {
			slog.Warn("phrase cache: synthesis failed, skipping",
				"phrase", phrase, "error", err)
			continue
		}
		c.mu.Lock()
		c.audio[phrase] = pcm
		c.mu.Unlock()
		ok++
	}
	slog.Info("phrase cache warmed",
		"cached", ok, "total", len(c.phrases), "elapsed", time.Since(start))
}

func (c *Cache) synthesise(ctx context.Context, phrase string) ([]byte, error) {
	ch, err := c.provider.SpeakStream(ctx, phrase)
	if err != nil {
		return nil, err
	}
	var pcm []byte
	for chunk := range ch {
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}

// Match reports whether spoken starts with a cached phrase. On a hit it
// returns the cached PCM and the remaining text still needing synthesis.
func (c *Cache) Match(spoken string) (pcm []byte, remaining string, ok bool) {
	spoken = strings.TrimSpace(spoken)
	if spoken == "" {
		return nil, "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for phrase, audio := range c.audio {
		if len(spoken) >= len(phrase) && strings.EqualFold(spoken[:len(phrase)], phrase) {
			remaining = strings.TrimSpace(spoken[len(phrase):])
			return audio, remaining, true
		}
	}
	return nil, "", false
}

// Size returns how many phrases are currently cached.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.audio)
}
