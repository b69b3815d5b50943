package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidCorrectorNames lists known corrector backend names. [Validate] warns
// about unrecognised names rather than rejecting them, so new backends can be
// configured without a code change here.
var ValidCorrectorNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Corrector backends
	validateCorrectorName("corrector.primary", cfg.Corrector.Primary.Name)
	if cfg.Corrector.Fallback != nil {
		if cfg.Corrector.Fallback.Name == "" {
			errs = append(errs, errors.New("corrector.fallback.name is required when a fallback block is present"))
		}
		validateCorrectorName("corrector.fallback", cfg.Corrector.Fallback.Name)
		if cfg.Corrector.Primary.Name == "" {
			errs = append(errs, errors.New("corrector.fallback is configured without corrector.primary"))
		}
	}
	if cfg.Corrector.Timeout < 0 {
		errs = append(errs, fmt.Errorf("corrector.timeout %v must not be negative", cfg.Corrector.Timeout))
	}
	if cfg.Corrector.Primary.Name == "" {
		slog.Warn("no corrector backend configured; only dictionary correction will run")
	}

	// Pipeline
	if cfg.Pipeline.WorkerLimit < 0 {
		errs = append(errs, fmt.Errorf("pipeline.worker_limit %d must not be negative", cfg.Pipeline.WorkerLimit))
	}

	// Prompt
	if cfg.Prompt.TermLimit < 0 {
		errs = append(errs, fmt.Errorf("prompt.term_limit %d must not be negative", cfg.Prompt.TermLimit))
	}

	// Storage
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; running on in-memory stores, nothing will survive a restart")
	}

	return errors.Join(errs...)
}

// validateCorrectorName logs a warning if name is non-empty and not found in
// [ValidCorrectorNames].
func validateCorrectorName(field, name string) {
	if name == "" || slices.Contains(ValidCorrectorNames, name) {
		return
	}
	slog.Warn("unknown corrector backend name — may be a typo or third-party backend",
		"field", field,
		"name", name,
		"known", ValidCorrectorNames,
	)
}
