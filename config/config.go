// Package config holds the explicit runtime configuration consumed by the
// transport, retry policy, tool loop, and webhook handler. There are no
// ambient lookups inside the core packages: a Config is built once at
// composition time (from YAML, the environment, or both) and its pieces are
// passed into constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the full runtime configuration surface.
	Config struct {
		// BaseURL is the upstream API endpoint.
		BaseURL string `yaml:"base_url"`
		// APIKey is the bearer token sent on outbound requests.
		APIKey string `yaml:"api_key"`
		// Timeout is the per-attempt request deadline.
		Timeout time.Duration `yaml:"timeout"`

		Retry       Retry       `yaml:"retry"`
		Idempotency Idempotency `yaml:"idempotency"`
		Tools       Tools       `yaml:"tools"`
		Webhook     Webhook     `yaml:"webhook"`
	}

	// Retry configures the transport retry policy.
	Retry struct {
		MaxAttempts       int           `yaml:"max_attempts"`
		InitialBackoff    time.Duration `yaml:"initial_backoff"`
		MaxBackoff        time.Duration `yaml:"max_backoff"`
		BackoffMultiplier float64       `yaml:"backoff_multiplier"`
		Jitter            bool          `yaml:"jitter"`
	}

	// Idempotency configures deterministic replay keys.
	Idempotency struct {
		// Enabled switches key derivation on for idempotent requests.
		Enabled bool `yaml:"enabled"`
		// BucketSeconds is the key reuse window width.
		BucketSeconds int `yaml:"bucket_seconds"`
	}

	// Tools configures the tool-calling loop.
	Tools struct {
		// MaxRounds bounds tool-calling rounds per run.
		MaxRounds int `yaml:"max_rounds"`
		// Parallel runs one round's tool calls concurrently.
		Parallel bool `yaml:"parallel"`
	}

	// Webhook configures inbound notification verification.
	Webhook struct {
		// Enabled gates the webhook endpoint.
		Enabled bool `yaml:"enabled"`
		// Secret is the shared signing secret.
		Secret string `yaml:"secret"`
		// SignatureHeader names the signature header.
		SignatureHeader string `yaml:"signature_header"`
		// TimestampHeader names the timestamp header.
		TimestampHeader string `yaml:"timestamp_header"`
		// MaxSkewSeconds bounds timestamp clock skew for replay protection.
		MaxSkewSeconds int `yaml:"max_skew_seconds"`
	}
)

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Timeout: 60 * time.Second,
		Retry: Retry{
			MaxAttempts:       3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Idempotency: Idempotency{
			Enabled:       true,
			BucketSeconds: 300,
		},
		Tools: Tools{
			MaxRounds: 8,
		},
		Webhook: Webhook{
			MaxSkewSeconds: 300,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("config: retry.backoff_multiplier must be >= 1, got %v", c.Retry.BackoffMultiplier)
	}
	if c.Idempotency.Enabled && c.Idempotency.BucketSeconds <= 0 {
		return fmt.Errorf("config: idempotency.bucket_seconds must be positive, got %d", c.Idempotency.BucketSeconds)
	}
	if c.Tools.MaxRounds < 1 {
		return fmt.Errorf("config: tools.max_rounds must be >= 1, got %d", c.Tools.MaxRounds)
	}
	if c.Webhook.Enabled && c.Webhook.Secret == "" {
		return fmt.Errorf("config: webhook.secret is required when webhooks are enabled")
	}
	return nil
}

// applyEnv overrides fields from RELAY_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RELAY_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("RELAY_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
		c.Webhook.Enabled = true
	}
	if v := os.Getenv("RELAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("RELAY_MAX_TOOL_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tools.MaxRounds = n
		}
	}
}
