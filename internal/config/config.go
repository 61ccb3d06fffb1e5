package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// Identity provider (bearer token verification)
	AuthSecret string `env:"AUTH_JWT_SECRET,required"`
	AuthIssuer string `env:"AUTH_JWT_ISSUER" envDefault:""`

	// Realtime call/chat provider
	StreamAPIKey    string `env:"STREAM_API_KEY,required"`
	StreamAPISecret string `env:"STREAM_API_SECRET,required"`
	StreamBaseURL   string `env:"STREAM_BASE_URL" envDefault:"https://video.stream-io-api.com"`

	MaxParticipants     int    `env:"SESSION_MAX_PARTICIPANTS" envDefault:"10"`
	UserTokenTTLSeconds int    `env:"USER_TOKEN_TTL_SECONDS" envDefault:"3600"`
	RateLimitPerMin     int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) UserTokenTTL() time.Duration {
	return time.Duration(c.UserTokenTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.MaxParticipants <= 0 {
		return fmt.Errorf("SESSION_MAX_PARTICIPANTS must be positive")
	}

	if isProduction {
		if err := validateSecret("AUTH_JWT_SECRET", c.AuthSecret); err != nil {
			return err
		}
		if err := validateSecret("STREAM_API_SECRET", c.StreamAPISecret); err != nil {
			return err
		}
		if !strings.HasPrefix(c.StreamBaseURL, "https://") {
			log.Warn().Msg("STREAM_BASE_URL is not https in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
