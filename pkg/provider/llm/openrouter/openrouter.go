// Package openrouter provides an llm.Provider backed by OpenRouter's
// OpenAI-compatible chat completions API.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"golang.org/x/sync/semaphore"

	"github.com/ordervox/ordervox/pkg/provider/llm"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"

	// tokenIdleGap fails the stream when the model goes silent mid-reply.
	tokenIdleGap = 30 * time.Second
)

// ErrTokenIdle is surfaced through Chunk.Err when no token arrives within
// the idle gap.
var ErrTokenIdle = errors.New("openrouter: token stream idle timeout")

// Option is a functional option for the Provider.
type Option func(*config)

type config struct {
	baseURL    string
	model      string
	httpClient *http.Client
	idleGap    time.Duration
	sem        *semaphore.Weighted
}

// WithBaseURL overrides the OpenRouter endpoint (tests point this at a stub).
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithModel selects the routed model (e.g. "google/gemini-2.5-flash").
func WithModel(m string) Option {
	return func(c *config) { c.model = m }
}

// WithHTTPClient sets the HTTP client; pass the process-wide pooled client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithIdleGap overrides the token idle timeout.
func WithIdleGap(d time.Duration) Option {
	return func(c *config) { c.idleGap = d }
}

// WithSemaphore sets the process-wide in-flight upstream limiter shared with
// the other remote clients. The slot is held until the stream drains. Nil
// disables limiting.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(c *config) { c.sem = sem }
}

// Provider implements llm.Provider via OpenRouter.
type Provider struct {
	client  oai.Client
	model   string
	idleGap time.Duration
	sem     *semaphore.Weighted
}

var _ llm.Provider = (*Provider)(nil)

// New constructs an OpenRouter provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openrouter: apiKey must not be empty")
	}
	cfg := &config{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		idleGap: tokenIdleGap,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		idleGap: cfg.idleGap,
		sem:     cfg.sem,
	}, nil
}

// GenerateStream implements llm.Provider.
func (p *Provider) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(llm.SystemPrompt),
			oai.UserMessage(llm.BuildPrompt(req)),
		},
		Temperature:         param.NewOpt(llm.DefaultTemperature),
		MaxCompletionTokens: param.NewOpt(int64(llm.DefaultMaxTokens)),
	}

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("openrouter: acquire upstream slot: %w", err)
		}
	}

	// A derived context lets the idle watchdog tear the stream down without
	// cancelling the caller's context.
	streamCtx, cancel := context.WithCancel(ctx)

	stream := p.client.Chat.Completions.NewStreaming(streamCtx, params)
	if err := stream.Err(); err != nil {
		cancel()
		if p.sem != nil {
			p.sem.Release(1)
		}
		return nil, fmt.Errorf("openrouter: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		if p.sem != nil {
			defer p.sem.Release(1)
		}
		defer cancel()
		defer stream.Close()

		idle := time.AfterFunc(p.idleGap, cancel)
		defer idle.Stop()

		var full string
		for stream.Next() {
			idle.Reset(p.idleGap)

			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			full += token

			select {
			case ch <- llm.Chunk{Token: token, FullText: full}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			// The watchdog cancelled streamCtx while the caller is still live.
			if streamCtx.Err() != nil {
				err = ErrTokenIdle
			}
			select {
			case ch <- llm.Chunk{FullText: full, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
