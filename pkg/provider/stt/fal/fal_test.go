package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ordervox/ordervox/internal/resilience"
	"github.com/ordervox/ordervox/pkg/provider/stt"
)

// fakeUpstream serves both the upload and subscribe endpoints. subscribeFn
// decides each subscribe response; uploads always succeed.
func fakeUpstream(t *testing.T, subscribeFn func(n int64, w http.ResponseWriter)) (*httptest.Server, *int64) {
	t.Helper()
	var subscribes int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/a.webm"})
		case "/generate":
			n := atomic.AddInt64(&subscribes, 1)
			subscribeFn(n, w)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &subscribes
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(srv.URL + "/generate"),
		WithUploadURL(srv.URL + "/upload"),
		WithMinGap(0),
		WithRetryPolicy(resilience.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Retryable:   stt.IsTransient,
		}),
	}
	c, err := New("test-key", append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func bigAudio() []byte { return make([]byte, 4096) }

func TestTranscribePartial_SkipsTinyInput(t *testing.T) {
	t.Parallel()

	srv, subscribes := fakeUpstream(t, func(int64, http.ResponseWriter) {})
	c := newTestClient(t, srv)

	res, err := c.TranscribePartial(context.Background(), make([]byte, 999), false)
	if err != nil {
		t.Fatalf("TranscribePartial: %v", err)
	}
	if !res.Skipped {
		t.Error("want Skipped=true for sub-1KB input")
	}
	if *subscribes != 0 {
		t.Errorf("upstream must not be contacted, got %d calls", *subscribes)
	}
}

func TestTranscribePartial_Success(t *testing.T) {
	t.Parallel()

	srv, _ := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]string{{"text": "iki pizza"}, {"text": "lütfen"}},
		})
	})
	c := newTestClient(t, srv)

	res, err := c.TranscribePartial(context.Background(), bigAudio(), true)
	if err != nil {
		t.Fatalf("TranscribePartial: %v", err)
	}
	if res.Text != "iki pizza lütfen" {
		t.Errorf("text: want %q, got %q", "iki pizza lütfen", res.Text)
	}
	if !res.IsFinal {
		t.Error("want IsFinal=true")
	}
	if res.Confidence != 0.85 {
		t.Errorf("confidence: want 0.85, got %v", res.Confidence)
	}
}

func TestTranscribePartial_RetriesOn500ThenSucceeds(t *testing.T) {
	t.Parallel()

	srv, subscribes := fakeUpstream(t, func(n int64, w http.ResponseWriter) {
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "test"})
	})
	c := newTestClient(t, srv)

	res, err := c.TranscribePartial(context.Background(), bigAudio(), false)
	if err != nil {
		t.Fatalf("TranscribePartial: %v", err)
	}
	if res.Text != "test" {
		t.Errorf("text: want %q, got %q", "test", res.Text)
	}
	if *subscribes != 3 {
		t.Errorf("subscribe calls: want 3, got %d", *subscribes)
	}
}

func TestTranscribePartial_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	t.Parallel()

	srv, subscribes := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, srv)

	_, err := c.TranscribePartial(context.Background(), bigAudio(), false)
	if !stt.IsTransient(err) {
		t.Fatalf("want transient failure, got %v", err)
	}
	// Three total attempts; a fourth must not be made.
	if *subscribes != 3 {
		t.Errorf("subscribe calls: want 3, got %d", *subscribes)
	}
}

func TestTranscribePartial_FailsFastOn4xx(t *testing.T) {
	t.Parallel()

	srv, subscribes := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	c := newTestClient(t, srv)

	_, err := c.TranscribePartial(context.Background(), bigAudio(), false)
	var f *stt.Failure
	if !errors.As(err, &f) || f.Kind != stt.KindInvalid {
		t.Fatalf("want invalid failure, got %v", err)
	}
	if *subscribes != 1 {
		t.Errorf("subscribe calls: want 1 (no retry), got %d", *subscribes)
	}
}

func TestReady_FlagsOpenBreaker(t *testing.T) {
	t.Parallel()

	srv, _ := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, srv)

	if err := c.Ready(context.Background()); err != nil {
		t.Fatalf("fresh client should be ready: %v", err)
	}

	// Five failed calls open the breaker; readiness must report it.
	for range 5 {
		c.TranscribePartial(context.Background(), bigAudio(), false)
	}
	if err := c.Ready(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
}

func TestTranscribePartial_EnforcesMinGap(t *testing.T) {
	t.Parallel()

	srv, _ := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	})
	c := newTestClient(t, srv, WithMinGap(80*time.Millisecond))

	start := time.Now()
	if _, err := c.TranscribePartial(context.Background(), bigAudio(), false); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.TranscribePartial(context.Background(), bigAudio(), false); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second call fired before the minimum gap: %v", elapsed)
	}
}

func TestWarmup_TolerantPath(t *testing.T) {
	t.Parallel()

	srv, subscribes := fakeUpstream(t, func(_ int64, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]string{"text": ""})
	})
	c := newTestClient(t, srv)

	if err := c.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if *subscribes != 1 {
		t.Errorf("subscribe calls: want 1, got %d", *subscribes)
	}
}
