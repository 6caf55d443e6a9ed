// Package config holds the billscan runtime configuration.
//
// Configuration is resolved through viper from, in increasing priority:
// built-in defaults, an optional YAML config file, environment variables
// with the BILLSCAN prefix, and CLI flags bound by the commands package.
// The resolved Config struct is threaded explicitly into the pipeline so
// components never reach for ambient state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	// LLM provider
	Provider      string  `mapstructure:"provider"`
	Model         string  `mapstructure:"model"`
	APIKey        string  `mapstructure:"api_key"`
	BaseURL       string  `mapstructure:"base_url"`
	OllamaBaseURL string  `mapstructure:"ollama_base_url"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`

	// Chunking and concurrency
	PagesPerChunk       int `mapstructure:"pages_per_chunk"`
	MaxConcurrentChunks int `mapstructure:"max_concurrent_chunks"`

	// Retry policy
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	AttemptTimeoutFloor time.Duration `mapstructure:"attempt_timeout_floor"`
	PerPageTimeout      time.Duration `mapstructure:"per_page_timeout"`

	// Document limits
	MaxPages       int   `mapstructure:"max_pages"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// Cleaning tunables
	AmountTolerance    float64 `mapstructure:"amount_tolerance"`
	FilterNonBillable  bool    `mapstructure:"filter_non_billable"`
	FilterNegativeRows bool    `mapstructure:"filter_negative_rows"`

	// HTTP server
	Port         string        `mapstructure:"port"`
	ServerAPIKey string        `mapstructure:"server_api_key"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// SetDefaults registers default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", "")
	v.SetDefault("model", "")
	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_tokens", 16384)

	v.SetDefault("pages_per_chunk", 2)
	v.SetDefault("max_concurrent_chunks", 2)

	v.SetDefault("max_attempts", 3)
	v.SetDefault("base_delay", 2*time.Second)
	v.SetDefault("max_delay", 30*time.Second)
	v.SetDefault("attempt_timeout_floor", 2*time.Minute)
	v.SetDefault("per_page_timeout", 30*time.Second)

	v.SetDefault("max_pages", 50)
	v.SetDefault("max_upload_bytes", int64(10<<20))

	v.SetDefault("amount_tolerance", 0.01)
	v.SetDefault("filter_non_billable", true)
	v.SetDefault("filter_negative_rows", true)

	v.SetDefault("port", "8080")
	v.SetDefault("fetch_timeout", 30*time.Second)
}

// Load resolves configuration from the global viper instance.
func Load() (Config, error) {
	return FromViper(viper.GetViper())
}

// FromViper resolves configuration from a specific viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

// Default returns the built-in configuration without consulting viper.
func Default() Config {
	v := viper.New()
	cfg, _ := FromViper(v)
	return cfg
}

// clamp forces out-of-range values back to usable ones.
func (c *Config) clamp() {
	if c.PagesPerChunk <= 0 {
		c.PagesPerChunk = 2
	}
	if c.MaxConcurrentChunks <= 0 {
		c.MaxConcurrentChunks = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 30 * time.Second
	}
	if c.AttemptTimeoutFloor <= 0 {
		c.AttemptTimeoutFloor = 2 * time.Minute
	}
	if c.PerPageTimeout <= 0 {
		c.PerPageTimeout = 30 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.AmountTolerance <= 0 {
		c.AmountTolerance = 0.01
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}

// Validate checks settings that have no usable fallback.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "", "gemini", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown provider %q (available: gemini, openai, anthropic, ollama)", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0,2]", c.Temperature)
	}
	return nil
}
