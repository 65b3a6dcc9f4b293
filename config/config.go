// Package config builds the service configuration from the environment,
// optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	DatabaseURL string    `yaml:"database_url" validate:"required"`
	Port        string    `yaml:"port" validate:"required,numeric"`
	LogLevel    string    `yaml:"log_level" validate:"oneof=debug info warn error"`
	LLM         LLM       `yaml:"llm"`
	RateLimit   RateLimit `yaml:"rate_limit"`
}

// LLM configures the chat-completion upstream. APIKey may be empty here;
// calls fail with a configuration error until it is set.
type LLM struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	Model      string        `yaml:"model" validate:"required"`
	AppURL     string        `yaml:"app_url"`
	AppTitle   string        `yaml:"app_title"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries uint          `yaml:"max_retries" validate:"lte=10"`
	RetryWait  time.Duration `yaml:"retry_wait" validate:"gt=0"`
	Breaker    Breaker       `yaml:"breaker"`
}

// Breaker configures the upstream circuit breaker
type Breaker struct {
	MinRequests      uint32        `yaml:"min_requests" validate:"gt=0"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RateLimit bounds how often a single user may hit LLM-backed routes
type RateLimit struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"gt=0"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		LLM: LLM{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "anthropic/claude-3.5-sonnet",
			AppURL:     "http://localhost:3000",
			AppTitle:   "IdentityForge",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			RetryWait:  500 * time.Millisecond,
			Breaker: Breaker{
				MinRequests:      5,
				FailureThreshold: 0.8,
				Interval:         30 * time.Second,
				Timeout:          60 * time.Second,
			},
		},
		RateLimit: RateLimit{RPS: 1, Burst: 5},
	}
}

// Load reads the configuration from the process environment
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("IDENTITYFORGE_CONFIG"); ok && path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.overlayEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or out-of-range values
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_URL", &c.DatabaseURL)
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("OPENROUTER_API_KEY", &c.LLM.APIKey)
	str("OPENROUTER_BASE_URL", &c.LLM.BaseURL)
	str("OPENROUTER_MODEL", &c.LLM.Model)
	str("APP_URL", &c.LLM.AppURL)

	if v, ok := lookup("LLM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LLM_TIMEOUT: %w", err)
		}
		c.LLM.Timeout = d
	}
	if v, ok := lookup("LLM_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("LLM_MAX_RETRIES: %w", err)
		}
		c.LLM.MaxRetries = uint(n)
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	return nil
}
