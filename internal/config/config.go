// Package config loads the hub configuration from a JSON5 file with env
// overrides. Secrets (DSN, API keys, tokens) come from the environment
// only and are never written to or read from the config file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the hub server.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Identity  IdentityConfig  `json:"identity"`
	Provider  ProviderConfig  `json:"provider"`
	Points    PointsConfig    `json:"points"`
	Channels  ChannelsConfig  `json:"channels,omitempty"`
	Payments  PaymentsConfig  `json:"payments,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	PublicBaseURL  string   `json:"public_base_url"`           // externally reachable base, used for generated webhook URLs
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS; empty = allow all
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // per-account message rate; 0 = disabled
	ServiceToken   string   `json:"-"`                         // from env AGENTHUB_SERVICE_TOKEN only
}

// DatabaseConfig configures Postgres.
// PostgresDSN is NEVER read from the config file — only from env AGENTHUB_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// IdentityConfig points at the auth provider's admin API.
type IdentityConfig struct {
	BaseURL    string `json:"base_url"`
	ServiceKey string `json:"-"` // from env AGENTHUB_IDENTITY_KEY only
}

// ProviderConfig selects and configures the text-generation provider.
type ProviderConfig struct {
	Name         string  `json:"name"` // "anthropic" (default) or "openai"
	Model        string  `json:"model,omitempty"`
	APIBase      string  `json:"api_base,omitempty"` // override provider endpoint
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	HistoryLimit int     `json:"history_limit,omitempty"` // prior messages sent when resuming a conversation
	APIKey       string  `json:"-"`                       // from env ANTHROPIC_API_KEY / OPENAI_API_KEY
}

// PointsConfig holds the flat per-message pricing. All values are whole
// points; pricing is deliberately independent of message length or
// generation cost.
type PointsConfig struct {
	StartingBalance int64 `json:"starting_balance"` // granted on first provision
	MessageCost     int64 `json:"message_cost"`     // debited from the sender per exchange
	OwnerCredit     int64 `json:"owner_credit"`     // credited to the agent owner per exchange
	ChannelFee      int64 `json:"channel_fee"`      // charged to the owner per inbound channel message
}

// ChannelsConfig groups per-channel settings.
type ChannelsConfig struct {
	Line LineConfig `json:"line,omitempty"`
}

// LineConfig configures the LINE webhook bridge.
//
// FeeAfterVerify controls whether the owner's processing fee is charged
// before or after signature verification. The safe default (true) only
// charges authenticated requests; false restores the historical order
// that charged for forged requests too.
type LineConfig struct {
	APIBase        string `json:"api_base,omitempty"` // reply endpoint base (default https://api.line.me)
	FeeAfterVerify *bool  `json:"fee_after_verify,omitempty"`
	RateLimitRPM   int    `json:"rate_limit_rpm,omitempty"` // per-agent webhook rate; 0 = default
}

// FeeAfterVerifyEnabled applies the default (true) when unset.
func (c LineConfig) FeeAfterVerifyEnabled() bool {
	if c.FeeAfterVerify == nil {
		return true
	}
	return *c.FeeAfterVerify
}

// PaymentsConfig configures checkout-session creation and settlement.
type PaymentsConfig struct {
	Currency      string `json:"currency,omitempty"` // default "thb"
	APIBase       string `json:"api_base,omitempty"` // default https://api.stripe.com
	SecretKey     string `json:"-"`                  // from env STRIPE_SECRET_KEY only
	WebhookSecret string `json:"-"`                  // from env STRIPE_WEBHOOK_SECRET only
}

// TelemetryConfig configures OpenTelemetry export for traces.
// When enabled, spans are exported to an OTLP-compatible backend.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext export for local dev
	ServiceName string            `json:"service_name,omitempty"` // default "agenthub"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (auth tokens for cloud backends)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         18620,
			RateLimitRPM: 30,
		},
		Provider: ProviderConfig{
			Name:         "anthropic",
			MaxTokens:    1000,
			Temperature:  0.7,
			HistoryLimit: 20,
		},
		Points: PointsConfig{
			StartingBalance: 1000,
			MessageCost:     10,
			OwnerCredit:     5,
			ChannelFee:      5,
		},
		Channels: ChannelsConfig{
			Line: LineConfig{
				APIBase:      "https://api.line.me",
				RateLimitRPM: 60,
			},
		},
		Payments: PaymentsConfig{
			Currency: "thb",
			APIBase:  "https://api.stripe.com",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTHUB_POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("AGENTHUB_SERVICE_TOKEN"); v != "" {
		c.Server.ServiceToken = v
	}
	if v := os.Getenv("AGENTHUB_PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = v
	}
	if v := os.Getenv("AGENTHUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("AGENTHUB_IDENTITY_URL"); v != "" {
		c.Identity.BaseURL = v
	}
	if v := os.Getenv("AGENTHUB_IDENTITY_KEY"); v != "" {
		c.Identity.ServiceKey = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		c.Payments.SecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.Payments.WebhookSecret = v
	}

	// Provider API key: provider-specific env var wins, generic fallback.
	switch c.Provider.Name {
	case "openai":
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	default:
		c.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if v := os.Getenv("AGENTHUB_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
}
