// Package config loads service configuration from compiled-in defaults, an
// optional YAML file, and ROOMSYNC_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/room-booking/backend/internal/subscription"
)

// EnvPrefix is stripped from environment variable names. A double
// underscore separates nesting levels, so ROOMSYNC_SERVER__ADDR sets
// server.addr.
const EnvPrefix = "ROOMSYNC_"

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Log          LogConfig          `koanf:"log"`
	Database     DatabaseConfig     `koanf:"database"`
	Graph        GraphConfig        `koanf:"graph"`
	Subscription SubscriptionConfig `koanf:"subscription"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	AllowedOrigin string        `koanf:"allowed_origin"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig locates the SQLite token database.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// GraphConfig configures the calendar provider client.
type GraphConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// SubscriptionConfig configures the subscription lifecycle.
type SubscriptionConfig struct {
	NotificationURL string        `koanf:"notification_url"`
	Lifetime        time.Duration `koanf:"lifetime"`
	SafetyMargin    time.Duration `koanf:"safety_margin"`
	DefaultUserID   string        `koanf:"default_user_id"`
	ClientState     string        `koanf:"client_state"`
	CallTimeout     time.Duration `koanf:"call_timeout"`
	HistoryKeep     int           `koanf:"history_keep"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			IdleTimeout:   60 * time.Second,
			AllowedOrigin: "http://localhost:3000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path: "data/roomsync.db",
		},
		Graph: GraphConfig{
			BaseURL: "https://graph.microsoft.com/v1.0",
			Timeout: 30 * time.Second,
		},
		Subscription: SubscriptionConfig{
			Lifetime:     subscription.DefaultLifetime,
			SafetyMargin: subscription.DefaultSafetyMargin,
			CallTimeout:  30 * time.Second,
			HistoryKeep:  100,
		},
	}
}

// Load reads configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := url.ParseRequestURI(c.Graph.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("graph.base_url: %w", err))
	}

	if c.Subscription.NotificationURL == "" {
		errs = append(errs, errors.New("subscription.notification_url is required"))
	} else if u, err := url.Parse(c.Subscription.NotificationURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("subscription.notification_url %q is not an absolute URL", c.Subscription.NotificationURL))
	}
	if _, err := c.SweepInterval(); err != nil {
		errs = append(errs, err)
	}
	if c.Subscription.CallTimeout <= 0 {
		errs = append(errs, errors.New("subscription.call_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// SweepInterval derives the renewal period from lifetime and safety margin.
func (c *Config) SweepInterval() (time.Duration, error) {
	return subscription.SweepInterval(c.Subscription.Lifetime, c.Subscription.SafetyMargin)
}
