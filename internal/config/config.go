package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Server struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Gateway struct {
	BaseURL            string `yaml:"base_url"`
	APIKeyEnv          string `yaml:"api_key_env"`           // env var holding the service key
	SessionTokenEnv    string `yaml:"session_token_env"`     // optional, bearer token
	TimeoutMs          int    `yaml:"timeout_ms"`
	Retries            int    `yaml:"retries"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// APIKey resolves the service key from the configured environment variable.
func (g Gateway) APIKey() string { return os.Getenv(g.APIKeyEnv) }

// SessionToken resolves the optional bearer token; empty means anonymous.
func (g Gateway) SessionToken() string {
	if g.SessionTokenEnv == "" {
		return ""
	}
	return os.Getenv(g.SessionTokenEnv)
}

type TTL struct {
	QuoteSeconds        int `yaml:"quote_seconds"`
	IntradaySeconds     int `yaml:"intraday_seconds"`
	DailySeconds        int `yaml:"daily_seconds"`
	FundamentalsSeconds int `yaml:"fundamentals_seconds"`
	NewsSeconds         int `yaml:"news_seconds"`
	SyntheticSeconds    int `yaml:"synthetic_seconds"`
	SweepIntervalSecs   int `yaml:"sweep_interval_seconds"`
}

type Batch struct {
	PacingMs int `yaml:"pacing_ms"`
}

type Reconnect struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	MaxAttempts    int `yaml:"max_attempts"` // -1 for infinite
	JitterMs       int `yaml:"jitter_ms"`
}

type Feed struct {
	Enabled   bool      `yaml:"enabled"`
	URL       string    `yaml:"url"`
	Symbols   []string  `yaml:"symbols"` // watchlist kept live via push updates
	Reconnect Reconnect `yaml:"reconnect"`
}

type Root struct {
	Server  Server  `yaml:"server"`
	Gateway Gateway `yaml:"gateway"`
	TTL     TTL     `yaml:"ttl"`
	Batch   Batch   `yaml:"batch"`
	Feed    Feed    `yaml:"feed"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8090"
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://www.alphavantage.co"
	}
	if c.Gateway.APIKeyEnv == "" {
		c.Gateway.APIKeyEnv = "MARKETDATA_API_KEY"
	}
	if c.Gateway.TimeoutMs == 0 {
		c.Gateway.TimeoutMs = 15000
	}
	if c.Gateway.Retries == 0 {
		c.Gateway.Retries = 1
	}
	if c.Gateway.RateLimitPerMinute == 0 {
		c.Gateway.RateLimitPerMinute = 60
	}

	if c.TTL.QuoteSeconds == 0 {
		c.TTL.QuoteSeconds = 60
	}
	if c.TTL.IntradaySeconds == 0 {
		c.TTL.IntradaySeconds = 900
	}
	if c.TTL.DailySeconds == 0 {
		c.TTL.DailySeconds = 86400
	}
	if c.TTL.FundamentalsSeconds == 0 {
		c.TTL.FundamentalsSeconds = 86400
	}
	if c.TTL.NewsSeconds == 0 {
		c.TTL.NewsSeconds = 3600
	}
	if c.TTL.SyntheticSeconds == 0 {
		c.TTL.SyntheticSeconds = 30
	}
	if c.TTL.SweepIntervalSecs == 0 {
		c.TTL.SweepIntervalSecs = 60
	}

	if c.Batch.PacingMs == 0 {
		c.Batch.PacingMs = 200
	}

	if c.Feed.URL == "" {
		c.Feed.URL = "ws://localhost:8091/feed"
	}
	if c.Feed.Reconnect.InitialDelayMs == 0 {
		c.Feed.Reconnect.InitialDelayMs = 500
	}
	if c.Feed.Reconnect.MaxDelayMs == 0 {
		c.Feed.Reconnect.MaxDelayMs = 30000
	}
	if c.Feed.Reconnect.MaxAttempts == 0 {
		c.Feed.Reconnect.MaxAttempts = 5
	}
	if c.Feed.Reconnect.JitterMs == 0 {
		c.Feed.Reconnect.JitterMs = 250
	}

	return c, nil
}
