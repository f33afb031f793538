// Command ordervox is the main entry point for the ordervox voice ordering
// gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/ordervox/ordervox/internal/bridge"
	"github.com/ordervox/ordervox/internal/config"
	"github.com/ordervox/ordervox/internal/gateway"
	"github.com/ordervox/ordervox/internal/health"
	"github.com/ordervox/ordervox/internal/menu"
	"github.com/ordervox/ordervox/internal/observe"
	"github.com/ordervox/ordervox/internal/phrasecache"
	"github.com/ordervox/ordervox/internal/warmkeeper"
	"github.com/ordervox/ordervox/pkg/provider/llm"
	"github.com/ordervox/ordervox/pkg/provider/llm/anyllm"
	"github.com/ordervox/ordervox/pkg/provider/llm/openrouter"
	"github.com/ordervox/ordervox/pkg/provider/stt"
	sttfal "github.com/ordervox/ordervox/pkg/provider/stt/fal"
	"github.com/ordervox/ordervox/pkg/provider/tts"
	ttsfal "github.com/ordervox/ordervox/pkg/provider/tts/fal"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ordervox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ordervox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("ordervox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "ordervox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	// One pooled HTTP client and one upstream-concurrency semaphore, shared by
	// every provider.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	inflight := semaphore.NewWeighted(cfg.Pipeline.MaxInflight)

	sttProv, err := buildSTT(cfg, httpClient, inflight)
	if err != nil {
		slog.Error("failed to create stt provider", "err", err)
		return 1
	}
	llmProv, err := buildLLM(cfg, httpClient, inflight)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}
	ttsProv, err := buildTTS(cfg, httpClient, inflight)
	if err != nil {
		slog.Error("failed to create tts provider", "err", err)
		return 1
	}

	// ── Menu and order store ──────────────────────────────────────────────────
	store, err := menu.NewStore(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer store.Close()

	// ── Phrase cache ──────────────────────────────────────────────────────────
	bridgeOpts := []bridge.Option{bridge.WithMetrics(metrics)}
	if cfg.Pipeline.PhraseCache {
		phrases := phrasecache.New(ttsProv)
		phrases.Warm(ctx)
		slog.Info("phrase cache warmed", "phrases", phrases.Size())
		bridgeOpts = append(bridgeOpts, bridge.WithPhraseCache(phrases))
	}

	// ── Warm keeper ───────────────────────────────────────────────────────────
	keeper := warmkeeper.New(sttProv, ttsProv, cfg.Pipeline.WarmInterval.Std())
	keeper.Start()
	defer keeper.Stop()

	// ── Gateway ───────────────────────────────────────────────────────────────
	b := bridge.New(llmProv, ttsProv, store, bridgeOpts...)
	gw := gateway.New(store, sttProv, ttsProv, b,
		gateway.WithIdleTimeout(cfg.Pipeline.SessionIdleTimeout.Std()),
		gateway.WithPartialSTTWindow(cfg.Pipeline.MinPartialDuration.Std()),
		gateway.WithSilenceThreshold(cfg.Pipeline.SilenceThreshold.Std()),
		gateway.WithMetrics(metrics),
	)

	// ── HTTP routing ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	gw.Register(mux)
	healthOpts := []health.Option{
		health.WithCheck("database", store.Ping),
		health.WithSessionGauge(gw.Sessions().ActiveCount),
	}
	if ready, ok := sttProv.(interface{ Ready(context.Context) error }); ok {
		healthOpts = append(healthOpts, health.WithCheck("stt", ready.Ready))
	}
	health.New(healthOpts...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildSTT constructs the transcription provider named in cfg. Only the fal
// wizper backend ships today.
func buildSTT(cfg *config.Config, hc *http.Client, sem *semaphore.Weighted) (stt.Provider, error) {
	entry := cfg.Providers.STT
	switch entry.Name {
	case "", "fal":
		opts := []sttfal.Option{
			sttfal.WithHTTPClient(hc),
			sttfal.WithSemaphore(sem),
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttfal.WithBaseURL(entry.BaseURL))
		}
		if gap := cfg.Pipeline.MinSTTGap.Std(); gap > 0 {
			opts = append(opts, sttfal.WithMinGap(gap))
		}
		return sttfal.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildLLM constructs the language model provider named in cfg. "openrouter"
// talks the OpenAI wire protocol through openrouter.ai; "anyllm" fans out to
// any backend the any-llm bindings support (openai, anthropic, ollama, ...).
func buildLLM(cfg *config.Config, hc *http.Client, sem *semaphore.Weighted) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	switch entry.Name {
	case "", "openrouter":
		opts := []openrouter.Option{
			openrouter.WithHTTPClient(hc),
			openrouter.WithSemaphore(sem),
		}
		if entry.Model != "" {
			opts = append(opts, openrouter.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openrouter.WithBaseURL(entry.BaseURL))
		}
		return openrouter.New(entry.APIKey, opts...)
	case "anyllm":
		backend := entry.Backend
		if backend == "" {
			return nil, errors.New("anyllm llm provider requires a backend")
		}
		var libOpts []anyllmlib.Option
		if entry.APIKey != "" {
			libOpts = append(libOpts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			libOpts = append(libOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model,
			anyllm.WithBackendOptions(libOpts...),
			anyllm.WithSemaphore(sem),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

// buildTTS constructs the speech synthesis provider named in cfg.
func buildTTS(cfg *config.Config, hc *http.Client, sem *semaphore.Weighted) (tts.Provider, error) {
	entry := cfg.Providers.TTS
	switch entry.Name {
	case "", "fal":
		opts := []ttsfal.Option{
			ttsfal.WithHTTPClient(hc),
			ttsfal.WithSemaphore(sem),
		}
		if entry.Voice != "" {
			opts = append(opts, ttsfal.WithVoice(entry.Voice))
		}
		if entry.Speed != 0 {
			opts = append(opts, ttsfal.WithSpeed(entry.Speed))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsfal.WithStreamURL(entry.BaseURL))
		}
		return ttsfal.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         ordervox — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Voice)
	if cfg.Database.PostgresDSN != "" {
		fmt.Printf("║  Database        : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Database        : %-19s ║\n", "(not configured)")
	}
	if cfg.Pipeline.PhraseCache {
		fmt.Printf("║  Phrase cache    : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Phrase cache    : %-19s ║\n", "disabled")
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(default)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
