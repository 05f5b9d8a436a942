package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the casegen service.
type Config struct {
	Addr           string   `env:"ADDR,default=:5000"`
	ClientURL      string   `env:"CLIENT_URL,default=http://localhost:5173"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimit      int      `env:"RATE_LIMIT_PER_MINUTE,default=100"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL,default=http://localhost:5000/api/auth/callback"`
	GitHubAPIURL       string `env:"GITHUB_API_URL"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL,default=gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	SummaryTemperature float32 `env:"SUMMARY_TEMPERATURE,default=0.7"`
	SummaryMaxTokens   int     `env:"SUMMARY_MAX_TOKENS,default=1500"`
	CodeTemperature    float32 `env:"CODE_TEMPERATURE,default=0.3"`
	CodeMaxTokens      int     `env:"CODE_MAX_TOKENS,default=2000"`

	SessionMaxAge     time.Duration `env:"SESSION_MAX_AGE,default=2h"`
	SweepInterval     time.Duration `env:"SESSION_SWEEP_INTERVAL,default=30m"`
	OAuthStateTTL     time.Duration `env:"OAUTH_STATE_TTL,default=10m"`
	AuthTimeout       time.Duration `env:"AUTH_TIMEOUT,default=10s"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT,default=30s"`
	HostingTimeout    time.Duration `env:"HOSTING_TIMEOUT,default=60s"`
	MaxSelectedFiles  int           `env:"MAX_SELECTED_FILES,default=10"`

	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	NATSURL        string `env:"NATS_URL"`
	DBDSN          string `env:"DB_DSN"`
	ArtifactBucket string `env:"S3_BUCKET"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"SESSION_MAX_AGE":        c.SessionMaxAge,
		"SESSION_SWEEP_INTERVAL": c.SweepInterval,
		"OAUTH_STATE_TTL":        c.OAuthStateTTL,
		"AUTH_TIMEOUT":           c.AuthTimeout,
		"GENERATION_TIMEOUT":     c.GenerationTimeout,
		"HOSTING_TIMEOUT":        c.HostingTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxSelectedFiles < 1 {
		return fmt.Errorf("MAX_SELECTED_FILES must be at least 1, got %d", c.MaxSelectedFiles)
	}
	for name, t := range map[string]float32{"SUMMARY_TEMPERATURE": c.SummaryTemperature, "CODE_TEMPERATURE": c.CodeTemperature} {
		if t < 0 || t > 2 {
			return fmt.Errorf("%s must be between 0 and 2, got %g", name, t)
		}
	}
	if c.SummaryMaxTokens < 1 || c.CodeMaxTokens < 1 {
		return fmt.Errorf("SUMMARY_MAX_TOKENS and CODE_MAX_TOKENS must be at least 1, got %d and %d", c.SummaryMaxTokens, c.CodeMaxTokens)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.RateLimit)
	}
	if strings.TrimSpace(c.ClientURL) == "" {
		return errors.New("CLIENT_URL is required")
	}
	return nil
}

// OAuthEnabled reports whether the browser authorization flow is configured.
func (c Config) OAuthEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}
