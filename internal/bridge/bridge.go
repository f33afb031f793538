// Package bridge drives one committed conversation turn: it streams the
// model reply token by token to the client, starts speech synthesis at the
// first sentence boundary so audio begins before generation finishes, and
// executes the parsed intent against the menu store.
//
// The bridge never touches the socket; all outbound traffic goes through the
// driver-owned [wire.Sender]. Its LLM and TTS goroutines are registered in
// the session's task registry, so a barge-in or a corrective restart cancels
// them through the same mechanism as everything else.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ordervox/ordervox/internal/intent"
	"github.com/ordervox/ordervox/internal/menu"
	"github.com/ordervox/ordervox/internal/observe"
	"github.com/ordervox/ordervox/internal/phrasecache"
	"github.com/ordervox/ordervox/internal/session"
	"github.com/ordervox/ordervox/internal/wire"
	"github.com/ordervox/ordervox/pkg/provider/llm"
	"github.com/ordervox/ordervox/pkg/provider/tts"
)

// failSpoken is the client-visible message for a terminal turn failure.
const failSpoken = "Üzgünüm, bir sorun oluştu. Lütfen tekrar deneyin."

// boundaryRe matches the first sentence boundary: ., ! or ? followed by
// whitespace or end of string.
var boundaryRe = regexp.MustCompile(`[.!?](\s|$)`)

// Bridge couples the LLM and TTS providers with the menu store for one
// gateway instance. Safe for concurrent use across sessions.
type Bridge struct {
	llm     llm.Provider
	tts     tts.Provider
	store   menu.Repository
	phrases *phrasecache.Cache
	metrics *observe.Metrics
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithPhraseCache serves pre-synthesised opening audio for replies that
// start with a cached phrase.
func WithPhraseCache(c *phrasecache.Cache) Option {
	return func(b *Bridge) { b.phrases = c }
}

// WithMetrics records per-stage latencies and turn counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a Bridge over the given providers and store.
func New(llmProv llm.Provider, ttsProv tts.Provider, store menu.Repository, opts ...Option) *Bridge {
	b := &Bridge{llm: llmProv, tts: ttsProv, store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drives one committed turn for sess with the given transcript.
//
// The LLM stream is registered under the "llm" task key, replacing (and
// cancelling) any in-flight predecessor, which is exactly what a corrective
// restart needs. TTS spawned from the stream runs under "tts" with the LLM
// context as parent, so cancelling the generation also silences its speech.
//
// A cancelled turn returns the context error without emitting anything
// further; a terminal provider failure emits an error control message and
// parks the session in Idle.
//
// products is the session's menu snapshot; menuContext is its rendered text
// and is sent with every request so no other session's menu can bleed in.
func (b *Bridge) Run(ctx context.Context, sess *session.Session, transcript, menuContext string, products []menu.Product, send wire.Sender) error {
	llmCtx, finishLLM := sess.Tasks.Register(ctx, session.TaskLLM)
	defer finishLLM()

	sess.SetState(session.StateGeneratingLLM)
	sess.MarkLLMStart()
	if err := send.Control(wire.NewStatus("thinking")); err != nil {
		return err
	}

	llmStart := time.Now()
	chunks, err := b.llm.GenerateStream(llmCtx, llm.Request{
		Transcript:  transcript,
		MenuContext: menuContext,
		History:     sess.History(),
	})
	if err != nil {
		return b.fail(llmCtx, sess, send, err)
	}

	var (
		full      string
		streamErr error
		ttsResult chan error
	)
	for chunk := range chunks {
		if llmCtx.Err() != nil {
			break
		}
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		full = chunk.FullText
		if err := send.Control(wire.NewAIToken(chunk.Token, full)); err != nil {
			return err
		}
		if ttsResult == nil {
			if spoken, ok := firstSpeakable(full); ok {
				ttsResult = make(chan error, 1)
				go func() {
					ttsResult <- b.speak(llmCtx, sess, spoken, send)
				}()
			}
		}
	}

	if err := llmCtx.Err(); err != nil {
		// Barge-in or corrective restart; the registry already tore the
		// upstream down and the new owner speaks next.
		if ttsResult != nil {
			<-ttsResult
		}
		return err
	}
	if streamErr != nil {
		if ttsResult != nil {
			<-ttsResult
		}
		return b.fail(llmCtx, sess, send, streamErr)
	}
	if b.metrics != nil {
		b.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}

	reply := intent.Parse(full)

	if ttsResult != nil {
		if err := <-ttsResult; err != nil {
			return b.fail(llmCtx, sess, send, err)
		}
	} else {
		// No sentence boundary ever appeared: one TTS call over the final
		// spoken text.
		if err := b.speak(llmCtx, sess, reply.Spoken, send); err != nil {
			return b.fail(llmCtx, sess, send, err)
		}
	}

	if err := send.Control(wire.NewAIComplete(wire.IntentData{
		SpokenResponse: reply.Spoken,
		Intent:         reply.Kind.String(),
		ProductName:    reply.ProductName,
		Quantity:       reply.Quantity,
	})); err != nil {
		return err
	}

	if err := b.act(llmCtx, sess, reply, products, send); err != nil {
		return b.fail(llmCtx, sess, send, err)
	}

	sess.AppendTurn(transcript, reply.Spoken)
	if b.metrics != nil {
		b.metrics.RecordTurn(ctx, reply.Kind.String())
		if t := sess.TimingsSnapshot(); !t.FirstAudio.IsZero() && !t.TurnStart.IsZero() {
			b.metrics.TimeToFirstAudio.Record(ctx, t.FirstAudio.Sub(t.TurnStart).Seconds())
		}
	}
	sess.SetState(session.StateIdle)
	return nil
}

// speak synthesises text and relays the PCM frames to the client. The TTS
// task replaces any predecessor under the "tts" key; parent is expected to
// be the owning LLM task context.
func (b *Bridge) speak(parent context.Context, sess *session.Session, text string, send wire.Sender) error {
	ttsCtx, finish := sess.Tasks.Register(parent, session.TaskTTS)
	defer finish()

	sess.SetState(session.StateStreamingTTS)
	sess.MarkTTSStart()
	if err := send.Control(wire.NewTTSStart()); err != nil {
		return err
	}
	start := time.Now()

	remaining := text
	if b.phrases != nil {
		if pcm, rest, ok := b.phrases.Match(text); ok {
			sess.MarkFirstAudio()
			if err := send.Audio(pcm); err != nil {
				return err
			}
			remaining = rest
		}
	}

	if strings.TrimSpace(remaining) != "" {
		frames, err := b.tts.SpeakStream(ttsCtx, remaining)
		if err != nil {
			return err
		}
		for pcm := range frames {
			sess.MarkFirstAudio()
			if err := send.Audio(pcm); err != nil {
				return err
			}
		}
	}

	if err := ttsCtx.Err(); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.TTSDuration.Record(ttsCtx, time.Since(start).Seconds())
	}
	return send.Control(wire.NewTTSComplete())
}

// act executes the side effect of the parsed intent: order placement, check
// request, or recommendation. Info, greet, and other need no action.
func (b *Bridge) act(ctx context.Context, sess *session.Session, reply intent.Reply, products []menu.Product, send wire.Sender) error {
	switch reply.Kind {
	case intent.KindAdd:
		product, ok := menu.ResolveProduct(products, reply.ProductName)
		if !ok {
			slog.Warn("ordered product not on menu",
				"session_id", sess.ID, "product", reply.ProductName)
			return nil
		}
		table := menu.Table{ID: sess.TableID, RestaurantID: sess.RestaurantID, QRToken: sess.QRToken}
		order, err := b.store.PlaceOrder(ctx, table, product.ID, reply.Quantity)
		if err != nil {
			return err
		}
		if b.metrics != nil {
			b.metrics.OrdersPlaced.Add(ctx, 1)
		}
		slog.Info("order placed",
			"session_id", sess.ID, "order_id", order.ID,
			"product", product.Name, "quantity", reply.Quantity)

	case intent.KindCheck:
		if err := b.store.RequestCheck(ctx, sess.TableID); err != nil {
			return err
		}
		slog.Info("check requested", "session_id", sess.ID, "table_id", sess.TableID)

	case intent.KindRecommend:
		if reply.ProductName == "" {
			return nil
		}
		if product, ok := menu.ResolveProduct(products, reply.ProductName); ok {
			return send.Control(wire.NewRecommendation(product))
		}
	}
	return nil
}

// fail reports a terminal turn failure to the client and parks the session
// in Idle. Context cancellation is passed through silently: the interrupt
// path already acknowledged it.
func (b *Bridge) fail(ctx context.Context, sess *session.Session, send wire.Sender, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	slog.Error("turn failed", "session_id", sess.ID, "error", err)
	_ = send.Control(wire.NewError(failSpoken))
	sess.SetState(session.StateIdle)
	return err
}

// firstSpeakable reports the text to synthesise once the accumulated stream
// contains a sentence boundary. It prefers the spoken_response value of the
// (possibly still open) JSON object; failing that it takes the prefix up to
// and including the boundary.
func firstSpeakable(full string) (string, bool) {
	loc := boundaryRe.FindStringIndex(full)
	if loc == nil {
		return "", false
	}
	if spoken, ok := intent.ExtractSpoken(full); ok && strings.TrimSpace(spoken) != "" {
		return spoken, true
	}
	if strings.Contains(full, "{") {
		// A JSON object is under way but spoken_response has no closing
		// quote yet; keep accumulating rather than speaking raw JSON.
		return "", false
	}
	return strings.TrimSpace(full[:loc[0]+1]), true
}
