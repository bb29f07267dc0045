// Package config provides configuration loading for buildmedic.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/buildmedic/internal/fuzzy"
	"github.com/fyrsmithlabs/buildmedic/internal/logging"
	"github.com/fyrsmithlabs/buildmedic/internal/telemetry"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "BUILDMEDIC_"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig configures the persistent memory store.
type StorageConfig struct {
	// Path is the data directory holding the collection files
	// (default: ~/.config/buildmedic/memory).
	Path string `koanf:"path"`
}

// AnalyzerConfig selects and configures the log analyzer.
type AnalyzerConfig struct {
	// Provider is pattern or llm (default: pattern).
	Provider string `koanf:"provider"`
	// BaseURL is the OpenAI-compatible endpoint for the llm provider.
	BaseURL string `koanf:"base_url"`
	// Model is the model name for the llm provider.
	Model string `koanf:"model"`
	// APIKey authenticates against the endpoint; optional for local ones.
	APIKey string `koanf:"api_key"`
}

// RiskConfig extends the risky-script heuristics.
type RiskConfig struct {
	// ExtraPatterns are additional regexps classified as risky.
	ExtraPatterns []string `koanf:"extra_patterns"`
}

// FuzzyConfig tunes similar-fix matching.
type FuzzyConfig struct {
	// Threshold is the minimum similarity in (0, 1] (default: 0.6).
	Threshold float64 `koanf:"threshold"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Storage   StorageConfig    `koanf:"storage"`
	Logging   logging.Config   `koanf:"logging"`
	Analyzer  AnalyzerConfig   `koanf:"analyzer"`
	Risk      RiskConfig       `koanf:"risk"`
	Fuzzy     FuzzyConfig      `koanf:"fuzzy"`
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (BUILDMEDIC_SERVER_PORT, BUILDMEDIC_STORAGE_PATH, ...)
//  2. YAML config file (default: ~/.config/buildmedic/config.yaml)
//  3. Hardcoded defaults
//
// The config file must not be world-readable: permissions other than 0600
// or 0400 are rejected, as are files over 1MB. A missing file is not an
// error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "buildmedic", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// BUILDMEDIC_SERVER_PORT -> server.port
	// BUILDMEDIC_ANALYZER_BASE_URL -> analyzer.base_url
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		section, field, found := strings.Cut(lower, "_")
		if !found {
			return lower
		}
		return section + "." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	switch c.Analyzer.Provider {
	case "pattern":
	case "llm":
		if c.Analyzer.BaseURL == "" {
			return fmt.Errorf("analyzer.base_url required for the llm provider")
		}
		if c.Analyzer.Model == "" {
			return fmt.Errorf("analyzer.model required for the llm provider")
		}
	default:
		return fmt.Errorf("invalid analyzer provider %q", c.Analyzer.Provider)
	}
	if c.Fuzzy.Threshold <= 0 || c.Fuzzy.Threshold > 1 {
		return fmt.Errorf("fuzzy.threshold must be in (0, 1], got %v", c.Fuzzy.Threshold)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Analyzer.Provider == "" {
		cfg.Analyzer.Provider = "pattern"
	}
	if cfg.Fuzzy.Threshold == 0 {
		cfg.Fuzzy.Threshold = fuzzy.DefaultThreshold
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}
