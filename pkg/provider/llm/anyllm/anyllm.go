// Package anyllm provides an llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// It is the escape hatch for deployments that cannot route through
// OpenRouter: the same waiter prompt runs against any backend the library
// knows.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllm.WithBackendOptions(anyllmlib.WithAPIKey("sk-...")))
//	p, err := anyllm.NewOllama("llama3")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	"golang.org/x/sync/semaphore"

	"github.com/ordervox/ordervox/pkg/provider/llm"
)

// tokenIdleGap fails the stream when the backend goes silent mid-reply.
const tokenIdleGap = 30 * time.Second

// ErrTokenIdle is surfaced through Chunk.Err when no token arrives within
// the idle gap.
var ErrTokenIdle = errors.New("anyllm: token stream idle timeout")

// Option is a functional option for the Provider.
type Option func(*Provider)

// WithBackendOptions passes configuration through to the any-llm-go backend
// (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key
// option the backend falls back to its environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func WithBackendOptions(opts ...anyllmlib.Option) Option {
	return func(p *Provider) { p.backendOpts = append(p.backendOpts, opts...) }
}

// WithIdleGap overrides the token idle timeout.
func WithIdleGap(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.idleGap = d
		}
	}
}

// WithSemaphore sets the process-wide in-flight upstream limiter shared with
// the other remote clients. The slot is held until the stream drains. Nil
// disables limiting.
func WithSemaphore(sem *semaphore.Weighted) Option {
	return func(p *Provider) { p.sem = sem }
}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	backendOpts []anyllmlib.Option
	model       string
	idleGap     time.Duration
	sem         *semaphore.Weighted
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider backed by the given backend name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
func New(providerName string, model string, opts ...Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	p := &Provider{model: model, idleGap: tokenIdleGap}
	for _, o := range opts {
		o(p)
	}

	backend, err := createBackend(providerName, p.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	p.backend = backend
	return p, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, opts ...Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, opts ...Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, opts ...Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// GenerateStream implements llm.Provider.
func (p *Provider) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params := p.buildParams(req)

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("anyllm: acquire upstream slot: %w", err)
		}
	}

	// A derived context lets the idle watchdog tear the stream down without
	// cancelling the caller's context.
	streamCtx, cancel := context.WithCancel(ctx)

	backendChunks, backendErrs := p.backend.CompletionStream(streamCtx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		if p.sem != nil {
			defer p.sem.Release(1)
		}
		defer cancel()

		idle := time.AfterFunc(p.idleGap, cancel)
		defer idle.Stop()

		var full string
		for chunk := range backendChunks {
			idle.Reset(p.idleGap)

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

		// Errors surface after the chunk channel drains. A cancelled stream
		// context with a live caller context means the watchdog fired.
		err := <-backendErrs
		if ctx.Err() != nil {
			return
		}
		if streamCtx.Err() != nil {
			err = ErrTokenIdle
		} else if err != nil {
			err = fmt.Errorf("anyllm: stream: %w", err)
		}
		if err != nil {
			select {
			case ch <- llm.Chunk{FullText: full, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// buildParams converts an llm.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.Request) anyllmlib.CompletionParams {
	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: llm.SystemPrompt},
		{Role: anyllmlib.RoleUser, Content: llm.BuildPrompt(req)},
	}

	temp := llm.DefaultTemperature
	maxTokens := llm.DefaultMaxTokens
	return anyllmlib.CompletionParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}
