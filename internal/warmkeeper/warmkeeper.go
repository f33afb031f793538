// Package warmkeeper keeps the remote speech models resident by sending
// trivial requests on an interval. Serverless containers that idle out add
// seconds of cold start to the next customer turn; a cheap request every
// interval keeps that from ever being paid in the hot path.
package warmkeeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the gap between keep-alive rounds.
const DefaultInterval = 30 * time.Second

// Warmer is anything that can be pinged with a trivial request.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Keeper pings the STT and TTS backends in parallel on a ticker. Start and
// Stop are idempotent; every warmup failure is swallowed with a log line so
// the keeper itself never dies.
type Keeper struct {
	stt      Warmer
	tts      Warmer
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped keeper. A nil warmer is skipped. interval outside
// [10s, 120s] is clamped.
func New(stt, tts Warmer, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > 120*time.Second {
		interval = 120 * time.Second
	}
	return &Keeper{stt: stt, tts: tts, interval: interval}
}

// Start launches the keep-alive loop. Calling Start on a running keeper is a
// no-op.
func (k *Keeper) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.run(ctx, k.done)
	slog.Info("warm keeper started", "interval", k.interval)
}

// Stop halts the loop and waits for the current round to finish. Calling
// Stop on a stopped keeper is a no-op.
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("warm keeper stopped")
}

func (k *Keeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.round(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// round pings both backends in parallel. Errors are logged, never returned.
func (k *Keeper) round(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if k.stt != nil {
		g.Go(func() error {
			if err := k.stt.Warmup(gctx); err != nil {
				slog.Debug("stt warmup failed", "error", err)
			}
			return nil
		})
	}
	if k.tts != nil {
		g.Go(func() error {
			if err := k.tts.Warmup(gctx); err != nil {
				slog.Debug("tts warmup failed", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
