// Package fal provides a TTS provider backed by the Freya streaming voice
// endpoint on fal.ai. Synthesis runs over a WebSocket: the text goes up once,
// base64-encoded PCM16 chunks come back until a done event closes the stream.
package fal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/ordervox/ordervox/pkg/provider/tts"
)

const (
	defaultStreamURL = "wss://ws.fal.run/freya/freya-tts/stream"

	defaultVoice    = "zeynep"
	defaultSpeed    = 1.15
	defaultLanguage = "tr"

	// chunkIdleGap tears the stream down when the synthesiser goes silent
	// mid-utterance.
	chunkIdleGap = 15 * time.Second

	warmupText = "test"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithStreamURL overrides the WebSocket endpoint (tests point this at a stub).
func WithStreamURL(u string) Option {
	return func(c *Client) { c.streamURL = u }
}

// WithVoice selects the synthesis voice.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithSpeed sets the speaking rate multiplier.
func WithSpeed(speed float64) Option {
	return func(c *Client) { c.speed = speed }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithIdleGap overrides the per-chunk idle timeout.
func WithIdleGap(d time.Duration) Option {
	return func(c *Client) { c.idleGap = d }
}

// WithSemaphore caps concurrent synthesis streams. The semaphore may be
// shared with other providers to bound upstream concurrency process-wide.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(c *Client) { c.sem = sem }
}

// Client implements tts.Provider against the Freya streaming endpoint.
type Client struct {
	apiKey     string
	streamURL  string
	voice      string
	speed      float64
	language   string
	idleGap    time.Duration
	httpClient *http.Client
	sem        *semaphore.Weighted
}

var _ tts.Provider = (*Client)(nil)

// New creates a Freya TTS client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("fal tts: apiKey must not be empty")
	}
	c := &Client{
		apiKey:    apiKey,
		streamURL: defaultStreamURL,
		voice:     defaultVoice,
		speed:     defaultSpeed,
		language:  defaultLanguage,
		idleGap:   chunkIdleGap,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// speakRequest is the single JSON payload sent after the dial.
type speakRequest struct {
	Input    string  `json:"input"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language"`
}

// speakEvent is one JSON message received over the WebSocket.
type speakEvent struct {
	Audio string `json:"audio,omitempty"` // base64 PCM16
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// SpeakStream implements tts.Provider.
func (c *Client) SpeakStream(ctx context.Context, text string) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("fal tts: text must not be empty")
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("fal tts: acquire upstream slot: %w", err)
		}
	}
	release := func() {
		if c.sem != nil {
			c.sem.Release(1)
		}
	}

	// The watchdog cancels streamCtx, which unblocks conn.Read.
	streamCtx, cancel := context.WithCancel(ctx)

	hdr := http.Header{}
	hdr.Set("Authorization", "Key "+c.apiKey)
	conn, _, err := websocket.Dial(streamCtx, c.streamURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: hdr,
	})
	if err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("fal tts: dial: %w", err)
	}

	req := speakRequest{Input: text, Voice: c.voice, Speed: c.speed, Language: c.language}
	reqBytes, _ := json.Marshal(req)
	if err := conn.Write(streamCtx, websocket.MessageText, reqBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send request")
		cancel()
		release()
		return nil, fmt.Errorf("fal tts: send request: %w", err)
	}

	audioCh := make(chan []byte, 256)
	go func() {
		defer close(audioCh)
		defer release()
		defer cancel()
		defer conn.Close(websocket.StatusNormalClosure, "done")

		idle := time.AfterFunc(c.idleGap, cancel)
		defer idle.Stop()

		for {
			_, msg, err := conn.Read(streamCtx)
			if err != nil {
				return
			}
			idle.Reset(c.idleGap)

			var ev speakEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			if ev.Error != "" {
				return
			}
			if ev.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-streamCtx.Done():
						return
					}
				}
			}
			if ev.Done {
				return
			}
		}
	}()

	return audioCh, nil
}

// Warmup synthesises a trivial utterance and discards the audio, keeping the
// remote model resident.
func (c *Client) Warmup(ctx context.Context) error {
	ch, err := c.SpeakStream(ctx, warmupText)
	if err != nil {
		return fmt.Errorf("fal tts: warmup: %w", err)
	}
	for range ch {
	}
	return ctx.Err()
}
