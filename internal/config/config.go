// Package config loads environment configuration for the marketplace server.
package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	Server struct {
		Host string `env:"HOST,default=0.0.0.0"`
		Port int    `env:"PORT,default=8000"`
	}

	Database struct {
		URL string `env:"DATABASE_URL"`
	}

	Redis struct {
		URL string `env:"REDIS_URL"`
	}

	Auth struct {
		SecretKey          string `env:"SECRET_KEY"`
		AccessTokenMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES,default=30"`
		RefreshTokenDays   int    `env:"REFRESH_TOKEN_EXPIRE_DAYS,default=7"`
		RateLimitPerSecond int    `env:"RATE_LIMIT_PER_SECOND,default=20"`
		RateLimitBurst     int    `env:"RATE_LIMIT_BURST,default=40"`
		AllowedOrigins     string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	}

	Business struct {
		HoursStart int     `env:"BUSINESS_HOURS_START,default=8"`
		HoursEnd   int     `env:"BUSINESS_HOURS_END,default=18"`
		Timezone   string  `env:"BUSINESS_TIMEZONE,default=Africa/Nairobi"`
		RatePerMin float64 `env:"BASE_RATE_PER_MINUTE,default=4.50"`
	}

	Mpesa struct {
		ConsumerKey    string `env:"MPESA_CONSUMER_KEY"`
		ConsumerSecret string `env:"MPESA_CONSUMER_SECRET"`
		Passkey        string `env:"MPESA_PASSKEY"`
		ShortCode      string `env:"MPESA_BUSINESS_SHORT_CODE"`
		CallbackURL    string `env:"MPESA_CALLBACK_URL"`
	}

	Maps struct {
		APIKey string `env:"GOOGLE_MAPS_API_KEY"`
	}

	FCM struct {
		ServerKey string `env:"FCM_SERVER_KEY"`
	}
}

// Load reads .env (when present) and decodes the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Auth.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}
	return &cfg, nil
}

// IsProduction reports whether the server runs against live providers.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
