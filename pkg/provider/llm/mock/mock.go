// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ordervox/ordervox/pkg/provider/llm"
)

// Provider implements llm.Provider with a scripted token sequence. Each
// GenerateStream call replays Tokens with TokenDelay between emissions, which
// lets tests cancel mid-stream to exercise barge-in paths.
type Provider struct {
	// Tokens are emitted in order; FullText accumulates across them.
	Tokens []string

	// TokenDelay is the pause before each token. Zero emits immediately.
	TokenDelay time.Duration

	// Err, when set, is emitted as the terminal chunk after Tokens.
	Err error

	// StartErr, when set, is returned from GenerateStream itself.
	StartErr error

	mu       sync.Mutex
	Requests []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// GenerateStream implements llm.Provider.
func (p *Provider) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	if p.StartErr != nil {
		return nil, p.StartErr
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)

		var full string
		for _, tok := range p.Tokens {
			if p.TokenDelay > 0 {
				select {
				case <-time.After(p.TokenDelay):
				case <-ctx.Done():
					return
				}
			}
			full += tok
			select {
			case ch <- llm.Chunk{Token: tok, FullText: full}:
			case <-ctx.Done():
				return
			}
		}
		if p.Err != nil {
			select {
			case ch <- llm.Chunk{FullText: full, Err: p.Err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// CallCount returns how many generations have been requested.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or a zero Request.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.Request{}
	}
	return p.Requests[len(p.Requests)-1]
}
