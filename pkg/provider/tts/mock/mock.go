// Package mock provides a scripted tts.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ordervox/ordervox/pkg/provider/tts"
)

// Provider implements tts.Provider with scripted PCM chunks. Each SpeakStream
// call replays Chunks with ChunkDelay between emissions so tests can cancel
// mid-playback.
type Provider struct {
	Chunks     [][]byte
	ChunkDelay time.Duration

	// StartErr, when set, is returned from SpeakStream itself.
	StartErr error

	// WarmupErr is returned by Warmup.
	WarmupErr error

	mu          sync.Mutex
	Texts       []string
	WarmupCalls int
}

var _ tts.Provider = (*Provider)(nil)

// SpeakStream implements tts.Provider.
func (p *Provider) SpeakStream(ctx context.Context, text string) (<-chan []byte, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	p.mu.Unlock()

	if p.StartErr != nil {
		return nil, p.StartErr
	}

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for _, chunk := range p.Chunks {
			if p.ChunkDelay > 0 {
				select {
				case <-time.After(p.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Warmup records a warm-keeper call.
func (p *Provider) Warmup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WarmupCalls++
	return p.WarmupErr
}

// CallCount returns how many synthesis calls have been made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}

// LastText returns the most recent synthesis input, or "".
func (p *Provider) LastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Texts) == 0 {
		return ""
	}
	return p.Texts[len(p.Texts)-1]
}
