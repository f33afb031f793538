// Package gateway is the duplex session driver: one WebSocket per restaurant
// table, multiplexing inbound audio frames and control messages against
// outbound transcripts, model tokens, and synthesised audio.
//
// Each connection runs a read loop (this package), a single writer goroutine
// (sender), and short-lived STT/LLM/TTS tasks registered in the session's
// task registry so that barge-in and teardown cancel them uniformly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ordervox/ordervox/internal/bridge"
	"github.com/ordervox/ordervox/internal/menu"
	"github.com/ordervox/ordervox/internal/observe"
	"github.com/ordervox/ordervox/internal/session"
	"github.com/ordervox/ordervox/internal/wire"
	"github.com/ordervox/ordervox/pkg/provider/stt"
	"github.com/ordervox/ordervox/pkg/provider/tts"
)

const (
	// defaultIdleTimeout closes sessions with no inbound traffic.
	defaultIdleTimeout = 300 * time.Second

	// jaccardRestartThreshold: a final transcription this dissimilar from the
	// committed partial cancels the in-flight generation and restarts it.
	jaccardRestartThreshold = 0.7

	// finalPassMinBytes gates the opportunistic end-of-utterance
	// transcription when a partial was already committed: below ~1s of
	// unprocessed audio the committed transcript stands.
	finalPassMinBytes = 16000

	// defaultGreeting is the spoken welcome. It matches a pre-cached phrase
	// so the audio can start without an upstream round trip.
	defaultGreeting = "Hoş geldiniz! Size nasıl yardımcı olabilirim?"

	// statusUnknownTable is the close code for a QR token that resolves to no
	// active table.
	statusUnknownTable = websocket.StatusCode(4004)
)

// connState carries the per-connection menu snapshot. menuContext rides along
// on every turn so the prompt is always built from this restaurant's menu.
type connState struct {
	products    []menu.Product
	menuContext string
}

// Gateway terminates voice WebSocket sessions.
type Gateway struct {
	store    menu.Repository
	stt      stt.Provider
	tts      tts.Provider
	bridge   *bridge.Bridge
	sessions *session.Manager

	metrics     *observe.Metrics
	idleTimeout time.Duration
	greeting    string
	sessionOpts []session.Option
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithIdleTimeout overrides the session idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.idleTimeout = d
		}
	}
}

// WithMetrics records session and pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithGreeting overrides the spoken welcome.
func WithGreeting(text string) Option {
	return func(g *Gateway) {
		if text != "" {
			g.greeting = text
		}
	}
}

// WithPartialSTTWindow sets the minimum audio duration (and pass interval)
// for partial transcriptions on new sessions.
func WithPartialSTTWindow(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.sessionOpts = append(g.sessionOpts, session.WithMinPartialAudio(d))
		}
	}
}

// WithSilenceThreshold sets the quiet period that commits a turn on new
// sessions.
func WithSilenceThreshold(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.sessionOpts = append(g.sessionOpts, session.WithSilenceThreshold(d))
		}
	}
}

// New creates a Gateway over the given store, providers, and bridge.
func New(store menu.Repository, sttProv stt.Provider, ttsProv tts.Provider, b *bridge.Bridge, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		stt:         sttProv,
		tts:         ttsProv,
		bridge:      b,
		idleTimeout: defaultIdleTimeout,
		greeting:    defaultGreeting,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sessions = session.NewManager(g.sessionOpts...)
	return g
}

// Sessions exposes the live session manager, used by readiness checks.
func (g *Gateway) Sessions() *session.Manager { return g.sessions }

// Register adds the voice endpoint to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /voice/{qr_token}", g.handleVoice)
}

func (g *Gateway) handleVoice(w http.ResponseWriter, r *http.Request) {
	qrToken := r.PathValue("qr_token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	// Inbound audio frames can far exceed the library's 32 KiB default.
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	table, err := g.store.LookupTable(ctx, qrToken)
	if err != nil {
		slog.Info("rejecting unknown table", "qr_token", qrToken, "error", err)
		conn.Close(statusUnknownTable, "unknown table")
		return
	}
	products, err := g.store.GetMenu(ctx, table.RestaurantID)
	if err != nil {
		slog.Error("menu load failed", "restaurant_id", table.RestaurantID, "error", err)
		conn.Close(websocket.StatusInternalError, "menu unavailable")
		return
	}

	sess := g.sessions.Create(table.ID, table.RestaurantID, qrToken)
	defer g.sessions.Remove(sess.ID)
	if g.metrics != nil {
		g.metrics.ActiveSessions.Add(ctx, 1)
		defer g.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	st := &connState{products: products, menuContext: menu.BuildContext(products)}

	snd := newSender(ctx, conn)
	g.greet(ctx, sess, snd)

	code, reason := g.readLoop(ctx, conn, sess, st, snd)
	cancel()
	conn.Close(code, reason)
}

// greet emits the welcome message and voices it in the background.
func (g *Gateway) greet(ctx context.Context, sess *session.Session, snd *sender) {
	if err := snd.Control(wire.NewGreeting(g.greeting)); err != nil {
		return
	}
	ttsCtx, finish := sess.Tasks.Register(ctx, session.TaskTTS)
	go func() {
		defer finish()
		frames, err := g.tts.SpeakStream(ttsCtx, g.greeting)
		if err != nil {
			slog.Warn("greeting synthesis failed", "session_id", sess.ID, "error", err)
			return
		}
		if snd.Control(wire.NewTTSStart()) != nil {
			return
		}
		for pcm := range frames {
			if snd.Audio(pcm) != nil {
				return
			}
		}
		if ttsCtx.Err() == nil {
			snd.Control(wire.NewTTSComplete())
		}
	}()
}

// readLoop demultiplexes inbound frames until the connection dies or idles
// out. It returns the close code and reason.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, st *connState, snd *sender) (websocket.StatusCode, string) {
	for {
		readCtx, cancelRead := context.WithTimeout(ctx, g.idleTimeout)
		typ, data, err := conn.Read(readCtx)
		cancelRead()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return websocket.StatusNormalClosure, ""
			case errors.Is(err, context.DeadlineExceeded):
				slog.Info("session idle timeout", "session_id", sess.ID)
				return websocket.StatusNormalClosure, "session idle timeout"
			case websocket.CloseStatus(err) != -1:
				return websocket.StatusNormalClosure, ""
			default:
				slog.Warn("read failed", "session_id", sess.ID, "error", err)
				return websocket.StatusInternalError, "read failure"
			}
		}

		switch typ {
		case websocket.MessageBinary:
			g.onAudio(ctx, sess, st, snd, data)
		case websocket.MessageText:
			g.onControl(ctx, sess, st, snd, data)
		}
	}
}

// onAudio buffers one inbound chunk and schedules a partial transcription
// pass when enough audio and wall time have accumulated.
func (g *Gateway) onAudio(ctx context.Context, sess *session.Session, st *connState, snd *sender, chunk []byte) {
	if sess.State() == session.StateIdle {
		sess.SetState(session.StateListening)
		snd.Control(wire.NewStatus("receiving"))
	}
	sess.AddAudioChunk(chunk)

	if sess.CanProcessPartialSTT() && sess.TryBeginSTT() {
		go g.partialPass(ctx, sess, st, snd)
	}
}

// onControl dispatches one inbound JSON control message. Unknown types are
// logged and ignored.
func (g *Gateway) onControl(ctx context.Context, sess *session.Session, st *connState, snd *sender, data []byte) {
	var in wire.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("malformed control message", "session_id", sess.ID, "error", err)
		return
	}

	switch in.Type {
	case wire.InAudioEnd:
		snd.Control(wire.NewStatus("processing"))
		g.commitTurn(ctx, sess, st, snd)

	case wire.InInterrupt:
		g.interrupt(ctx, sess, snd)

	case wire.InPing:
		snd.Control(wire.NewPong())

	case wire.InPlaybackComplete:
		slog.Debug("playback complete", "session_id", sess.ID)

	default:
		slog.Warn("unknown control message", "session_id", sess.ID, "type", in.Type)
	}
}

// interrupt is the barge-in path: cancel every task, drop queued turn
// output, clear the buffer, acknowledge, return to listening.
func (g *Gateway) interrupt(ctx context.Context, sess *session.Session, snd *sender) {
	sess.SetState(session.StateInterrupted)
	sess.Tasks.CancelAll()
	snd.DropTurnOutput()
	sess.ResetForNewInput()
	snd.Control(wire.NewInterruptAck())
	if g.metrics != nil {
		g.metrics.BargeIns.Add(ctx, 1)
	}
	slog.Info("barge-in", "session_id", sess.ID)
}

// partialPass runs one mid-utterance transcription over the whole buffer,
// merges the result into the rolling transcript, and fires the early trigger
// when the utterance looks finished. The caller holds the STT slot.
func (g *Gateway) partialPass(ctx context.Context, sess *session.Session, st *connState, snd *sender) {
	defer sess.EndSTT()
	sttCtx, finish := sess.Tasks.Register(ctx, session.TaskSTT)
	defer finish()

	seq := sess.NextSTTSeq()
	audio := sess.BufferedAudio()
	sess.SetState(session.StateProcessingSTT)
	sess.MarkSTTStart()
	snd.Control(wire.NewStatus("transcribing"))

	start := time.Now()
	res, err := g.stt.TranscribePartial(sttCtx, audio, false)
	if err != nil {
		if sttCtx.Err() == nil {
			slog.Warn("partial transcription failed", "session_id", sess.ID, "error", err)
		}
		return
	}
	if g.metrics != nil {
		g.metrics.STTDuration.Record(sttCtx, time.Since(start).Seconds())
	}
	if res.Skipped || strings.TrimSpace(res.Text) == "" {
		return
	}

	merged, applied := sess.CommitPartial(seq, res.Text)
	if !applied {
		// A newer pass already committed; this result is stale.
		return
	}
	snd.Control(wire.NewPartialTranscript(merged, res.Confidence))
	// The buffer only grows while listening; the next pass re-sends all of it.
	sess.MarkPartialSTT(len(audio))
	sess.SetState(session.StateListening)

	if sess.ShouldTriggerLLM() {
		g.commitTurn(ctx, sess, st, snd)
	}
}

// commitTurn captures the partial transcript as this turn's input, starts
// the bridge, and opportunistically runs a final transcription over the
// not-yet-processed audio for a corrective restart.
func (g *Gateway) commitTurn(ctx context.Context, sess *session.Session, st *connState, snd *sender) {
	transcript := sess.BeginTurn()
	remaining := sess.BufferedAudio()
	uncovered := sess.UnprocessedBytes()
	sess.ClearProcessedAudio(true)

	if transcript == "" && len(remaining) == 0 {
		sess.SetState(session.StateIdle)
		return
	}

	if transcript != "" {
		snd.Control(wire.NewTranscript(transcript))
		go g.runTurn(ctx, sess, st, transcript, snd)
		if uncovered < finalPassMinBytes {
			return
		}
	}
	go g.finalPass(ctx, sess, st, snd, transcript, remaining)
}

// finalPass transcribes the remaining audio with the final flag. With no
// committed transcript it carries the whole turn; otherwise a strongly
// diverging result cancels the in-flight generation and restarts it with
// the corrected text.
func (g *Gateway) finalPass(ctx context.Context, sess *session.Session, st *connState, snd *sender, committed string, audio []byte) {
	sttCtx, finish := sess.Tasks.Register(ctx, session.TaskSTT)
	defer finish()

	res, err := g.stt.TranscribePartial(sttCtx, audio, true)
	if err != nil {
		if sttCtx.Err() != nil {
			return
		}
		slog.Warn("final transcription failed", "session_id", sess.ID, "error", err)
		if committed == "" {
			snd.Control(wire.NewError("Sizi duyamadım. Tekrar söyler misiniz?"))
			sess.SetState(session.StateIdle)
		}
		return
	}

	final := strings.TrimSpace(res.Text)
	if res.Skipped || final == "" {
		if committed == "" {
			sess.SetState(session.StateIdle)
		}
		return
	}

	if committed == "" {
		snd.Control(wire.NewTranscript(final))
		g.runTurn(ctx, sess, st, final, snd)
		return
	}

	if stt.Jaccard(final, committed) < jaccardRestartThreshold {
		slog.Info("corrective restart",
			"session_id", sess.ID, "committed", committed, "final", final)
		snd.Control(wire.NewTranscript(final))
		g.runTurn(ctx, sess, st, final, snd)
	}
}

// runTurn drives the bridge for one committed transcript. Terminal errors
// were already reported to the client by the bridge; cancellations are the
// normal barge-in / restart path.
func (g *Gateway) runTurn(ctx context.Context, sess *session.Session, st *connState, transcript string, snd *sender) {
	err := g.bridge.Run(ctx, sess, transcript, st.menuContext, st.products, snd)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("turn ended with error", "session_id", sess.ID, "error", err)
	}
}
