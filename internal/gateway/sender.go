package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/ordervox/ordervox/internal/wire"
)

// outboundBuffer bounds the queue between producer goroutines and the single
// socket writer.
const outboundBuffer = 64

// outFrame is one queued socket write.
type outFrame struct {
	typ  websocket.MessageType
	data []byte

	// turnScoped frames (audio, ai_token, tts_start/complete) belong to the
	// turn that was current at enqueue time and are dropped by the writer
	// once an interrupt bumps the epoch.
	turnScoped bool
	epoch      uint64
}

// sender is the single-writer serialiser for one session's socket. All
// outbound traffic from the read loop, the bridge, and the STT tasks funnels
// through its queue, which preserves enqueue order per producer.
type sender struct {
	ctx    context.Context
	conn   *websocket.Conn
	frames chan outFrame
	closed chan struct{}
	epoch  atomic.Uint64
}

var _ wire.Sender = (*sender)(nil)

// newSender starts the writer goroutine for conn. It stops when ctx is
// cancelled or the first write fails.
func newSender(ctx context.Context, conn *websocket.Conn) *sender {
	s := &sender{
		ctx:    ctx,
		conn:   conn,
		frames: make(chan outFrame, outboundBuffer),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sender) run() {
	defer close(s.closed)
	for {
		select {
		case f := <-s.frames:
			if f.turnScoped && f.epoch < s.epoch.Load() {
				continue
			}
			if err := s.conn.Write(s.ctx, f.typ, f.data); err != nil {
				slog.Debug("socket write failed", "error", err)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Control implements wire.Sender.
func (s *sender) Control(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var scoped bool
	switch msg.(type) {
	case wire.AIToken, wire.TTSStart, wire.TTSComplete:
		scoped = true
	}
	return s.enqueue(outFrame{
		typ:        websocket.MessageText,
		data:       data,
		turnScoped: scoped,
		epoch:      s.epoch.Load(),
	})
}

// Audio implements wire.Sender. Frames are always turn-scoped.
func (s *sender) Audio(pcm []byte) error {
	return s.enqueue(outFrame{
		typ:        websocket.MessageBinary,
		data:       pcm,
		turnScoped: true,
		epoch:      s.epoch.Load(),
	})
}

// DropTurnOutput marks all queued and future frames of the current turn as
// stale so a barge-in silences audio that was already in flight.
func (s *sender) DropTurnOutput() {
	s.epoch.Add(1)
}

func (s *sender) enqueue(f outFrame) error {
	select {
	case s.frames <- f:
		return nil
	case <-s.closed:
		return context.Canceled
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
