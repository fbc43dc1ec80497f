// Package config defines kvmeshd's recognised configuration surface:
// the listener port, cache capacity, expiration sweep cadence, and the
// ambient logging knobs. File loading is a thin external collaborator
// (this package draws the line at "parse a TOML file into Config");
// the cache engine, session, and server packages never read
// configuration directly, they're handed a resolved Config.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every recognised option. It is a plain resolved value —
// file parsing happens in Load against the unexported file struct
// below, never directly into Config.
type Config struct {
	Port            int
	MaxItems        int
	CleanupInterval time.Duration
	CleanupSeconds  int
	LogLevel        string
	LogFile         string
	LogDevelopment  bool
}

// file mirrors the on-disk TOML layout:
//
//	[cache]
//	port = 5050
//	maxItems = 100
//	cleanupInterval = 60
//
//	[log]
//	level = "info"
//	file = ""
//	development = false
type file struct {
	Cache struct {
		Port            int `toml:"port"`
		MaxItems        int `toml:"maxItems"`
		CleanupInterval int `toml:"cleanupInterval"`
	} `toml:"cache"`
	Log struct {
		Level       string `toml:"level"`
		File        string `toml:"file"`
		Development bool   `toml:"development"`
	} `toml:"log"`
}

// Default returns the §6 documented defaults.
func Default() Config {
	return Config{
		Port:            5050,
		MaxItems:        100,
		CleanupSeconds:  60,
		CleanupInterval: 60 * time.Second,
		LogLevel:        "info",
	}
}

// Option mutates a Config, functional-options style, so callers can
// override one field at construction without threading the whole
// struct through.
type Option func(*Config)

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithMaxItems(n int) Option {
	return func(c *Config) { c.MaxItems = n }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = d
		c.CleanupSeconds = int(d.Seconds())
	}
}

func WithLogFile(path string) Option {
	return func(c *Config) { c.LogFile = path }
}

// New builds a Config from the documented defaults plus opts.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Load reads path as TOML, overlays it on the defaults, and validates
// it. A missing cleanupInterval/port/maxItems in the file keeps the
// default.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Default()

	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if f.Cache.Port != 0 {
		cfg.Port = f.Cache.Port
	}
	if f.Cache.MaxItems != 0 {
		cfg.MaxItems = f.Cache.MaxItems
	}
	if f.Cache.CleanupInterval != 0 {
		cfg.CleanupSeconds = f.Cache.CleanupInterval
		cfg.CleanupInterval = time.Duration(f.Cache.CleanupInterval) * time.Second
	}
	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}
	cfg.LogFile = f.Log.File
	cfg.LogDevelopment = f.Log.Development

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg, cfg.Validate()
}

// Validate reports a configuration fault. A non-positive MaxItems is
// fatal at startup per §4.1 "Construction with non-positive capacity
// is fatal."
func (c Config) Validate() error {
	if c.MaxItems <= 0 {
		return fmt.Errorf("config: cache.maxItems must be positive, got %d", c.MaxItems)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: cache.port out of range: %d", c.Port)
	}
	return nil
}
