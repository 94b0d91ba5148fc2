// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment always wins, so deployments can
// ship a checked-in file and tweak individual values per host.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the serve and sweep commands need.
type Config struct {
	Port         string `yaml:"port"`
	DatabasePath string `yaml:"database_path"`
	JWTSecret    string `yaml:"jwt_secret"`
	CookieSecure bool   `yaml:"cookie_secure"`

	Session SessionConfig `yaml:"session"`
}

// SessionConfig tunes the lifecycle engine's background actors.
type SessionConfig struct {
	// IdleTimeout is how long a non-terminal session may go without activity
	// before the reaper expires it. Deliberately a knob, not a constant.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ReapInterval is how often the reaper scans for stale sessions.
	ReapInterval time.Duration `yaml:"reap_interval"`
	// DispatchInterval is how often undispatched events are pushed to
	// subscribers.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// Defaults returns the configuration used when no file and no env overrides
// are present.
func Defaults() Config {
	return Config{
		Port:         "8080",
		DatabasePath: "focus.db",
		CookieSecure: true,
		Session: SessionConfig{
			IdleTimeout:      2 * time.Hour,
			ReapInterval:     time.Minute,
			DispatchInterval: time.Second,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// applies env overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file is fine; env and defaults carry the load.
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v != "false"
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.IdleTimeout = d
		}
	}
	if v := os.Getenv("SESSION_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.ReapInterval = d
		}
	}
	if v := os.Getenv("EVENT_DISPATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.DispatchInterval = d
		}
	}
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required (set JWT_SECRET)")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters for HMAC-SHA256 security")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session.reap_interval must be positive")
	}
	if c.Session.DispatchInterval <= 0 {
		return fmt.Errorf("session.dispatch_interval must be positive")
	}
	return nil
}
