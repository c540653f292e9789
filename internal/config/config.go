// Package config loads server settings from a YAML file and SPACESYNC_*
// environment variables. Environment values win over the file; command
// line flags are applied by the caller on top of both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	Database  string `yaml:"database"`
	JWTSecret string `yaml:"jwt_secret"`

	Push   PushConfig   `yaml:"push"`
	Poke   PokeConfig   `yaml:"poke"`
	Static StaticConfig `yaml:"static"`
	Log    LogConfig    `yaml:"log"`
}

type PushConfig struct {
	// Concurrency bounds the clients of one batch applied in parallel.
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts bounds attempts of one mutation on transient storage errors.
	MaxAttempts int `yaml:"max_attempts"`
}

type PokeConfig struct {
	// URL of an external fan-out webhook. Empty disables webhook pokes.
	URL string `yaml:"url"`
	// WebSocket enables the in-process hub on GET /poke.
	WebSocket   bool `yaml:"websocket"`
	MaxAttempts int  `yaml:"max_attempts"`
}

type StaticConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: "spacesync.db",
		Push: PushConfig{
			Concurrency: 1,
			MaxAttempts: 3,
		},
		Poke: PokeConfig{
			WebSocket:   true,
			MaxAttempts: 3,
		},
		Static: StaticConfig{
			TTL:       30 * time.Second,
			CacheSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envVar binds one SPACESYNC_* variable to a config field.
type envVar struct {
	name string
	set  func(cfg *Config, raw string) error
}

var envVars = []envVar{
	{"SPACESYNC_LISTEN", func(c *Config, v string) error { c.Listen = v; return nil }},
	{"SPACESYNC_DATABASE", func(c *Config, v string) error { c.Database = v; return nil }},
	{"SPACESYNC_JWT_SECRET", func(c *Config, v string) error { c.JWTSecret = v; return nil }},
	{"SPACESYNC_PUSH_CONCURRENCY", intField(func(c *Config) *int { return &c.Push.Concurrency })},
	{"SPACESYNC_PUSH_MAX_ATTEMPTS", intField(func(c *Config) *int { return &c.Push.MaxAttempts })},
	{"SPACESYNC_POKE_URL", func(c *Config, v string) error { c.Poke.URL = v; return nil }},
	{"SPACESYNC_POKE_WEBSOCKET", boolField(func(c *Config) *bool { return &c.Poke.WebSocket })},
	{"SPACESYNC_POKE_MAX_ATTEMPTS", intField(func(c *Config) *int { return &c.Poke.MaxAttempts })},
	{"SPACESYNC_STATIC_TTL", durationField(func(c *Config) *time.Duration { return &c.Static.TTL })},
	{"SPACESYNC_STATIC_CACHE_SIZE", intField(func(c *Config) *int { return &c.Static.CacheSize })},
	{"SPACESYNC_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"SPACESYNC_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, v := range envVars {
		raw, ok := lookup(v.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if err := v.set(cfg, raw); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", v.name, raw, err)
		}
	}
	return nil
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationField(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Push.Concurrency < 1 {
		return fmt.Errorf("push.concurrency must be >= 1, got %d", c.Push.Concurrency)
	}
	if c.Push.MaxAttempts < 1 {
		return fmt.Errorf("push.max_attempts must be >= 1, got %d", c.Push.MaxAttempts)
	}
	if c.Poke.MaxAttempts < 1 {
		return fmt.Errorf("poke.max_attempts must be >= 1, got %d", c.Poke.MaxAttempts)
	}
	if c.Static.TTL < 0 {
		return fmt.Errorf("static.ttl must not be negative, got %s", c.Static.TTL)
	}
	if c.Static.CacheSize < 1 {
		return fmt.Errorf("static.cache_size must be >= 1, got %d", c.Static.CacheSize)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
