package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, expands environment
// references, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in secret fields, applies defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	expandEnv(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} references in the secret-bearing fields.
func expandEnv(cfg *Config) {
	cfg.Providers.STT.APIKey = os.ExpandEnv(cfg.Providers.STT.APIKey)
	cfg.Providers.LLM.APIKey = os.ExpandEnv(cfg.Providers.LLM.APIKey)
	cfg.Providers.TTS.APIKey = os.ExpandEnv(cfg.Providers.TTS.APIKey)
	cfg.Database.PostgresDSN = os.ExpandEnv(cfg.Database.PostgresDSN)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	p := &cfg.Pipeline
	if p.WarmInterval == 0 {
		p.WarmInterval = Duration(DefaultWarmInterval)
	}
	if p.MaxInflight == 0 {
		p.MaxInflight = DefaultMaxInflight
	}
	if p.MinSTTGap == 0 {
		p.MinSTTGap = Duration(DefaultMinSTTGap)
	}
	if p.MinPartialDuration == 0 {
		p.MinPartialDuration = Duration(DefaultMinPartialDuration)
	}
	if p.SilenceThreshold == 0 {
		p.SilenceThreshold = Duration(DefaultSilenceThreshold)
	}
	if p.SessionIdleTimeout == 0 {
		p.SessionIdleTimeout = Duration(DefaultSessionIdleTimeout)
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("providers.stt.api_key is required"))
	}
	if cfg.Providers.LLM.APIKey == "" && cfg.Providers.LLM.Backend != "ollama" {
		errs = append(errs, errors.New("providers.llm.api_key is required"))
	}
	if cfg.Providers.TTS.APIKey == "" {
		errs = append(errs, errors.New("providers.tts.api_key is required"))
	}
	if s := cfg.Providers.TTS.Speed; s != 0 && (s < 0.5 || s > 2.0) {
		errs = append(errs, fmt.Errorf("providers.tts.speed %.2f is out of range [0.5, 2.0]", s))
	}

	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	p := cfg.Pipeline
	if p.WarmInterval.Std() < 10*time.Second || p.WarmInterval.Std() > 120*time.Second {
		errs = append(errs, fmt.Errorf("pipeline.warm_interval %v is out of range [10s, 120s]", p.WarmInterval.Std()))
	}
	if p.MaxInflight < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_inflight %d must be at least 1", p.MaxInflight))
	}
	if p.MinSTTGap.Std() < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_stt_gap %v must not be negative", p.MinSTTGap.Std()))
	}
	if p.MinPartialDuration.Std() < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("pipeline.min_partial_duration %v must be at least 100ms", p.MinPartialDuration.Std()))
	}
	if p.SilenceThreshold.Std() < 0 {
		errs = append(errs, fmt.Errorf("pipeline.silence_threshold %v must not be negative", p.SilenceThreshold.Std()))
	}
	if p.SessionIdleTimeout.Std() < time.Second {
		errs = append(errs, fmt.Errorf("pipeline.session_idle_timeout %v must be at least 1s", p.SessionIdleTimeout.Std()))
	}

	return errors.Join(errs...)
}
