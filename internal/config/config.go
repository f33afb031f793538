// Package config provides the configuration schema and loader for the
// ordervox gateway.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" decode directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler. Accepts Go duration strings
// ("400ms", "1.5s") and bare integers, which are taken as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		var secs int64
		if _, serr := fmt.Sscanf(s, "%d", &secs); serr == nil && fmt.Sprintf("%d", secs) == s {
			*d = Duration(time.Duration(secs) * time.Second)
			return nil
		}
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, typically loaded from a YAML file with
// [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Database  DatabaseConfig  `yaml:"database"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the remote model backends for each pipeline stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common block shared by all provider stages. APIKey
// values support ${ENV_VAR} expansion so secrets stay out of the file.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "fal", "openrouter", "anyllm").
	Name string `yaml:"name"`

	// APIKey is the authentication key; ${VAR} references are expanded from
	// the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "google/gemini-2.5-flash").
	Model string `yaml:"model"`

	// Backend selects the sub-backend for multi-backend providers
	// (anyllm: "openai", "anthropic", "ollama", ...).
	Backend string `yaml:"backend"`

	// Voice is the TTS voice identifier.
	Voice string `yaml:"voice"`

	// Speed adjusts TTS speaking rate in the range [0.5, 2.0]. 0 means the
	// provider default.
	Speed float64 `yaml:"speed"`
}

// DatabaseConfig holds the persistence settings.
type DatabaseConfig struct {
	// PostgresDSN is the connection string for the menu and order store.
	// ${VAR} references are expanded from the environment at load time.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PipelineConfig holds the voice pipeline tunables. Zero values take the
// defaults applied by [Load].
type PipelineConfig struct {
	// WarmInterval is the gap between model keep-alive rounds. Clamped to
	// [10s, 120s].
	WarmInterval Duration `yaml:"warm_interval"`

	// MaxInflight caps concurrent upstream provider calls process-wide.
	MaxInflight int64 `yaml:"max_inflight"`

	// MinSTTGap is the floor between consecutive transcription calls.
	MinSTTGap Duration `yaml:"min_stt_gap"`

	// MinPartialDuration is the minimum buffered audio before a partial
	// transcription pass, and the floor between passes.
	MinPartialDuration Duration `yaml:"min_partial_duration"`

	// SilenceThreshold promotes a partial transcript to a committed turn.
	SilenceThreshold Duration `yaml:"silence_threshold"`

	// SessionIdleTimeout closes sockets with no inbound traffic.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`

	// PhraseCache pre-synthesises common opening phrases at startup.
	PhraseCache bool `yaml:"phrase_cache"`
}

// Defaults applied by Load for unset pipeline values.
const (
	DefaultWarmInterval       = 30 * time.Second
	DefaultMaxInflight        = 10
	DefaultMinSTTGap          = 500 * time.Millisecond
	DefaultMinPartialDuration = 1200 * time.Millisecond
	DefaultSilenceThreshold   = 400 * time.Millisecond
	DefaultSessionIdleTimeout = 300 * time.Second
)
