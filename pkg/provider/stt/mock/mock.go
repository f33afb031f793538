// Package mock provides a scripted stt.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ordervox/ordervox/pkg/provider/stt"
)

// Call records one TranscribePartial invocation.
type Call struct {
	AudioLen int
	Final    bool
}

// Provider implements stt.Provider with scripted results. Each call consumes
// the next entry of Results (the last entry repeats once exhausted); Errs is
// consulted the same way. The zero value returns empty results.
type Provider struct {
	Results []stt.Result
	Errs    []error

	// Delay simulates the upstream round trip before each result.
	Delay time.Duration

	// WarmupErr is returned by Warmup.
	WarmupErr error

	mu          sync.Mutex
	Calls       []Call
	WarmupCalls int
}

var _ stt.Provider = (*Provider)(nil)

// TranscribePartial implements stt.Provider.
func (p *Provider) TranscribePartial(ctx context.Context, audio []byte, final bool) (stt.Result, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, Call{AudioLen: len(audio), Final: final})

	var err error
	if len(p.Errs) > 0 {
		err = p.Errs[min(n, len(p.Errs)-1)]
	}
	var res stt.Result
	if len(p.Results) > 0 {
		res = p.Results[min(n, len(p.Results)-1)]
	}
	res.IsFinal = final
	return res, err
}

// Warmup records a warm-keeper call.
func (p *Provider) Warmup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WarmupCalls++
	return p.WarmupErr
}

// LastCall returns the most recent transcription call, or a zero Call.
func (p *Provider) LastCall() Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return Call{}
	}
	return p.Calls[len(p.Calls)-1]
}

// CallCount returns how many transcription calls have been made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
