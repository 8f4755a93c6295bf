// Package config loads the fleetsync YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/route"
	"github.com/roach88/fleetsync/internal/store"
)

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Remote  RemoteConfig  `yaml:"remote"`
	Engine  EngineConfig  `yaml:"engine"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AllowHTTP    bool          `yaml:"allow_http"`
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	OverlapPolicy string `yaml:"overlap_policy"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads the file at path. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults and
// validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = store.DriverSQLite
	}
	if c.Store.Path == "" {
		c.Store.Path = "fleetsync.db"
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = route.DefaultBaseURL
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Engine.OverlapPolicy == "" {
		c.Engine.OverlapPolicy = string(dispatch.PolicySerialize)
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "fleetsync"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverBadger:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", store.DriverSQLite, store.DriverBadger, c.Store.Driver)
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an absolute http(s) URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	if _, err := dispatch.ParsePolicy(c.Engine.OverlapPolicy); err != nil {
		return fmt.Errorf("engine.overlap_policy: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}
