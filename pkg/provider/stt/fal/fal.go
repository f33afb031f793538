// Package fal provides an stt.Provider backed by a fal.ai-style serverless
// transcription endpoint.
//
// The upstream has no multipart ingest: audio is first uploaded to the CDN,
// then the queue endpoint is invoked with the resulting URL. Containers are
// serverless and flaky — result fetches intermittently return 500 — so calls
// run under a retry policy (2 s / 4 s backoff, three attempts total) and a
// circuit breaker, with a process-wide semaphore capping in-flight upstream
// work across all sessions.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ordervox/ordervox/internal/resilience"
	"github.com/ordervox/ordervox/pkg/provider/stt"
)

const (
	defaultBaseURL   = "https://fal.run/freya/freya-stt/generate"
	defaultUploadURL = "https://fal.run/storage/upload"
	defaultLanguage  = "tr"

	// defaultMinGap is the enforced minimum gap between consecutive upstream
	// calls from one client.
	defaultMinGap = 500 * time.Millisecond

	// minAudioBytes is the smallest input worth transcribing; anything below
	// is near-silence and upsets the serverless container.
	minAudioBytes = 1024

	// callTimeout is the hard deadline for one upload+subscribe round trip.
	// Warm containers answer in under 5 s; cold starts and queue waits can
	// stretch far beyond.
	callTimeout = 60 * time.Second
)

// Option is a functional option for the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for upload and subscribe calls.
// Pass the process-wide pooled client so connections are reused.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the transcription queue endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUploadURL overrides the CDN upload endpoint.
func WithUploadURL(u string) Option {
	return func(c *Client) { c.uploadURL = u }
}

// WithMinGap overrides the minimum gap between consecutive calls.
func WithMinGap(d time.Duration) Option {
	return func(c *Client) { c.minGap = d }
}

// WithLanguage overrides the recognition language (BCP-47ish upstream tag).
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithRetryPolicy overrides the retry policy for transient upstream failures.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithSemaphore sets the process-wide in-flight upstream limiter shared with
// the other remote clients. Nil disables limiting.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(c *Client) { c.sem = sem }
}

// Client implements stt.Provider against the fal queue API.
// It is safe for concurrent use; consecutive calls are spaced by the minimum
// gap regardless of which goroutine issues them.
type Client struct {
	apiKey     string
	baseURL    string
	uploadURL  string
	language   string
	minGap     time.Duration
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.CircuitBreaker
	sem        *semaphore.Weighted

	// gateMu serialises the rate-limit bookkeeping, not the upstream I/O.
	gateMu   sync.Mutex
	lastCall time.Time
}

// Compile-time assertion that Client satisfies stt.Provider.
var _ stt.Provider = (*Client)(nil)

// New constructs a fal STT client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("fal stt: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		uploadURL:  defaultUploadURL,
		language:   defaultLanguage,
		minGap:     defaultMinGap,
		httpClient: http.DefaultClient,
		retry: resilience.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    8 * time.Second,
			Retryable:   stt.IsTransient,
		},
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "stt"}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TranscribePartial implements stt.Provider.
func (c *Client) TranscribePartial(ctx context.Context, audio []byte, final bool) (stt.Result, error) {
	start := time.Now()

	if len(audio) < minAudioBytes {
		return stt.Result{IsFinal: final, Skipped: true}, nil
	}

	if err := c.waitMinGap(ctx); err != nil {
		return stt.Result{}, err
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return stt.Result{}, err
		}
		defer c.sem.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var resp transcribeResponse
	err := c.breaker.Execute(func() error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			audioURL, err := c.upload(ctx, audio)
			if err != nil {
				return err
			}
			resp, err = c.subscribe(ctx, audioURL)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &stt.Failure{Kind: stt.KindTransient, Err: err}
		}
		return stt.Result{}, err
	}

	return stt.Result{
		Text:           resp.text(),
		IsFinal:        final,
		Confidence:     resp.confidence(),
		ProcessingTime: time.Since(start),
	}, nil
}

// Ready reports whether the client can accept transcription work. An open
// circuit breaker means the upstream has been failing and readiness should
// flag it.
func (c *Client) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("fal stt: %w", resilience.ErrCircuitOpen)
	}
	return nil
}

// Warmup issues one trivial transcription to keep the serverless container
// alive. The input is a bare container header; the transcript is discarded.
func (c *Client) Warmup(ctx context.Context) error {
	// Minimal WebM (EBML) magic — enough for the container to spin up the
	// decode path without producing speech.
	dummy := []byte{0x1a, 0x45, 0xdf, 0xa3}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	audioURL, err := c.upload(ctx, dummy)
	if err != nil {
		return err
	}
	_, err = c.subscribe(ctx, audioURL)
	return err
}

// waitMinGap blocks until the minimum gap since the previous call has
// elapsed, then claims the slot.
func (c *Client) waitMinGap(ctx context.Context) error {
	for {
		c.gateMu.Lock()
		since := time.Since(c.lastCall)
		if since >= c.minGap {
			c.lastCall = time.Now()
			c.gateMu.Unlock()
			return nil
		}
		wait := c.minGap - since
		c.gateMu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// upload PUTs the raw audio to the CDN and returns its access URL. Each
// upload uses a unique object name to dodge CDN caching of stale audio.
func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	name := fmt.Sprintf("audio_%d_%d.webm", time.Now().UnixNano(), len(audio))
	u := c.uploadURL + "?file_name=" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(audio))
	if err != nil {
		return "", &stt.Failure{Kind: stt.KindFatal, Err: err}
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "audio/webm")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &stt.Failure{Kind: stt.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return "", err
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &stt.Failure{Kind: stt.KindFatal, Err: fmt.Errorf("decode upload response: %w", err)}
	}
	if body.URL == "" {
		return "", &stt.Failure{Kind: stt.KindFatal, Err: errors.New("upload response missing url")}
	}
	return body.URL, nil
}

// transcribeRequest is the queue-subscribe payload.
type transcribeRequest struct {
	AudioURL   string `json:"audio_url"`
	Task       string `json:"task"`
	Language   string `json:"language"`
	ChunkLevel string `json:"chunk_level"`
}

// transcribeResponse mirrors the upstream result shape: either a flat text
// field or segment-level chunks.
type transcribeResponse struct {
	Text   string `json:"text"`
	Chunks []struct {
		Text string `json:"text"`
	} `json:"chunks"`
}

// text flattens the response into a single transcript string.
func (r transcribeResponse) text() string {
	if r.Text != "" {
		return r.Text
	}
	parts := make([]string, 0, len(r.Chunks))
	for _, ch := range r.Chunks {
		if ch.Text != "" {
			parts = append(parts, ch.Text)
		}
	}
	return strings.Join(parts, " ")
}

// confidence estimates recognition confidence from the result structure; the
// upstream reports no score of its own.
func (r transcribeResponse) confidence() float64 {
	switch {
	case len(r.Chunks) > 0:
		return 0.85
	case r.Text != "":
		return 0.75
	default:
		return 0.5
	}
}

// subscribe invokes the transcription queue synchronously with the uploaded
// audio URL.
func (c *Client) subscribe(ctx context.Context, audioURL string) (transcribeResponse, error) {
	payload, err := json.Marshal(transcribeRequest{
		AudioURL:   audioURL,
		Task:       "transcribe",
		Language:   c.language,
		ChunkLevel: "segment",
	})
	if err != nil {
		return transcribeResponse{}, &stt.Failure{Kind: stt.KindFatal, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return transcribeResponse{}, &stt.Failure{Kind: stt.KindFatal, Err: err}
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transcribeResponse{}, &stt.Failure{Kind: stt.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return transcribeResponse{}, err
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return transcribeResponse{}, &stt.Failure{Kind: stt.KindFatal, Err: fmt.Errorf("decode transcription: %w", err)}
	}
	return out, nil
}

// classifyStatus maps an HTTP status to the STT error taxonomy. 2xx is nil;
// 5xx and 429 are transient (retried); other 4xx fail fast.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500 || status == http.StatusTooManyRequests:
		return &stt.Failure{Kind: stt.KindTransient, Status: status, Err: fmt.Errorf("upstream status %d", status)}
	default:
		return &stt.Failure{Kind: stt.KindInvalid, Status: status, Err: fmt.Errorf("upstream status %d", status)}
	}
}
