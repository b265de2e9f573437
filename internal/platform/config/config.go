package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// ErrConfiguration marks every error caused by missing or malformed settings.
var ErrConfiguration = errors.New("invalid configuration")

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Host      string `env:"HOST" default:"0.0.0.0"`
	Port      string `env:"PORT" default:"8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchAuthURL      string `env:"TWITCH_AUTH_URL" default:"https://id.twitch.tv/oauth2/token"`
	TwitchAPIURL       string `env:"TWITCH_API_URL" default:"https://api.twitch.tv/helix"`

	TwitchRequestTimeout  time.Duration `env:"TWITCH_REQUEST_TIMEOUT" default:"10s"`
	TwitchTokenExpirySkew time.Duration `env:"TWITCH_TOKEN_EXPIRY_SKEW" default:"5m"`
	TwitchMaxAttempts     int           `env:"TWITCH_MAX_ATTEMPTS" default:"3"`
}

// Addr returns the host:port pair the server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment variables: %w", ErrConfiguration, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct {
		name  string
		value string
	}{
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if cfg.Port == "" {
		return errors.New("PORT must not be empty")
	}

	endpoints := map[string]string{
		"TWITCH_AUTH_URL": cfg.TwitchAuthURL,
		"TWITCH_API_URL":  cfg.TwitchAPIURL,
	}
	for name, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if cfg.TwitchRequestTimeout <= 0 {
		return errors.New("TWITCH_REQUEST_TIMEOUT must be positive")
	}
	if cfg.TwitchTokenExpirySkew < 0 {
		return errors.New("TWITCH_TOKEN_EXPIRY_SKEW must not be negative")
	}
	if cfg.TwitchMaxAttempts < 1 {
		return fmt.Errorf("TWITCH_MAX_ATTEMPTS must be at least 1, got %d", cfg.TwitchMaxAttempts)
	}

	return nil
}
