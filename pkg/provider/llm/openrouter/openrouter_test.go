package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ordervox/ordervox/pkg/provider/llm"
)

// sseHandler streams the given tokens as OpenAI-style chat completion chunks.
func sseHandler(t *testing.T, tokens []string, gap time.Duration) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, tok := range tokens {
			if gap > 0 {
				select {
				case <-time.After(gap):
				case <-r.Context().Done():
					return
				}
			}
			payload, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-test",
				"object":  "chat.completion.chunk",
				"model":   "google/gemini-2.5-flash",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": tok}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			fl.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
	}
}

func collect(t *testing.T, ch <-chan llm.Chunk) (tokens []string, full string, streamErr error) {
	t.Helper()
	for c := range ch {
		if c.Err != nil {
			return tokens, full, c.Err
		}
		tokens = append(tokens, c.Token)
		full = c.FullText
	}
	return tokens, full, nil
}

func TestGenerateStream_AccumulatesTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{`{"spoken`, `_response"`, `: "Tabii"}`}, 0))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.GenerateStream(context.Background(), llm.Request{Transcript: "bir pizza"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	tokens, full, streamErr := collect(t, ch)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3: %v", len(tokens), tokens)
	}
	want := `{"spoken_response": "Tabii"}`
	if full != want {
		t.Errorf("FullText = %q, want %q", full, want)
	}
}

func TestGenerateStream_CancelStopsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{"a", "b", "c", "d", "e"}, 50*time.Millisecond))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.GenerateStream(ctx, llm.Request{Transcript: "merhaba"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	// Take one token then cancel mid-stream.
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestGenerateStream_IdleTimeout(t *testing.T) {
	t.Parallel()

	// One token, then the upstream stalls well past the idle gap.
	srv := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fl := w.(http.Flusher)
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": "Mer"}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			fl.Flush()
			select {
			case <-time.After(5 * time.Second):
			case <-r.Context().Done():
			}
		}
	}())
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL), WithIdleGap(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.GenerateStream(context.Background(), llm.Request{Transcript: "merhaba"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	_, full, streamErr := collect(t, ch)
	if streamErr == nil {
		t.Fatal("expected idle timeout error, got clean close")
	}
	if full != "Mer" {
		t.Errorf("FullText = %q, want %q", full, "Mer")
	}
}
