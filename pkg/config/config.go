package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// DefaultVersion is the cache version tag shipped with this build.
const DefaultVersion = "teen-patti-v1"

// DefaultManifest lists the application shell assets warmed on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.webmanifest",
	"/assets/generated/app-logo.dim_192x192.png",
	"/assets/generated/app-logo.dim_512x512.png",
	"/assets/generated/card-deck-sprite.dim_2048x2048.png",
	"/assets/generated/chips-sprite.dim_1024x1024.png",
	"/assets/generated/table-felt.dim_1024x1024.png",
}

// Config holds all tablecache configuration.
type Config struct {
	Listen          string        `yaml:"listen" env:"TABLECACHE_LISTEN"`
	Origin          string        `yaml:"origin" env:"TABLECACHE_ORIGIN"`
	Version         string        `yaml:"version" env:"TABLECACHE_VERSION"`
	Env             string        `yaml:"env" env:"TABLECACHE_ENV"`
	Register        string        `yaml:"register" env:"TABLECACHE_REGISTER"`
	Manifest        []string      `yaml:"manifest" env:"TABLECACHE_MANIFEST" envSeparator:","`
	OfflineDocument string        `yaml:"offline_document" env:"TABLECACHE_OFFLINE_DOCUMENT"`
	SkipWaiting     bool          `yaml:"skip_waiting" env:"TABLECACHE_SKIP_WAITING"`
	ClaimClients    bool          `yaml:"claim_clients" env:"TABLECACHE_CLAIM_CLIENTS"`
	Storage         StorageConfig `yaml:"storage"`
	Writer          WriterConfig  `yaml:"writer"`
	Install         InstallConfig `yaml:"install"`
	Log             LogConfig     `yaml:"log"`
}

// StorageConfig selects and configures the cache store backend.
// Driver is "sqlite" (default), "redis" or "memory".
type StorageConfig struct {
	Driver        string `yaml:"driver" env:"TABLECACHE_STORAGE_DRIVER"`
	DBPath        string `yaml:"db_path" env:"TABLECACHE_DB_PATH"`
	RedisAddr     string `yaml:"redis_addr" env:"TABLECACHE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"TABLECACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"TABLECACHE_REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"TABLECACHE_REDIS_PREFIX"`
}

// WriterConfig sizes the background cache write queue.
type WriterConfig struct {
	QueueSize int `yaml:"queue_size" env:"TABLECACHE_WRITER_QUEUE_SIZE"`
	Workers   int `yaml:"workers" env:"TABLECACHE_WRITER_WORKERS"`
}

// InstallConfig controls manifest warm-up.
type InstallConfig struct {
	Concurrency int `yaml:"concurrency" env:"TABLECACHE_INSTALL_CONCURRENCY"`
}

// LogConfig controls the zap logger. Format is "json" or "console".
type LogConfig struct {
	Level  string `yaml:"level" env:"TABLECACHE_LOG_LEVEL"`
	Format string `yaml:"format" env:"TABLECACHE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		Origin:          "http://localhost:3000",
		Version:         DefaultVersion,
		Env:             "production",
		Register:        "auto",
		Manifest:        append([]string(nil), DefaultManifest...),
		OfflineDocument: "/index.html",
		SkipWaiting:     true,
		ClaimClients:    true,
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: "tablecache.db",
		},
		Writer: WriterConfig{
			QueueSize: 256,
			Workers:   2,
		},
		Install: InstallConfig{
			Concurrency: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file, expands environment variables in it and
// then applies TABLECACHE_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault is Load for a non-empty path and Default plus env
// overrides otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays TABLECACHE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// RegisterManager reports whether the cache manager should be registered.
// Register is "always", "never" or "auto"; auto registers everywhere except
// development environments.
func (c *Config) RegisterManager() bool {
	switch strings.ToLower(c.Register) {
	case "always":
		return true
	case "never":
		return false
	}
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return false
	}
	return true
}

// OriginURL parses Origin.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrInvalid, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: origin %q must be an absolute URL", ErrInvalid, c.Origin)
	}
	return u, nil
}

// Validate checks the settings the manager relies on.
func (c *Config) Validate() error {
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalid)
	}
	if !strings.HasPrefix(c.OfflineDocument, "/") {
		return fmt.Errorf("%w: offline_document %q must be root-relative", ErrInvalid, c.OfflineDocument)
	}
	found := false
	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%w: manifest path %q must be root-relative", ErrInvalid, p)
		}
		if p == c.OfflineDocument {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: manifest must include offline document %q", ErrInvalid, c.OfflineDocument)
	}
	switch strings.ToLower(c.Register) {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("%w: register must be auto, always or never", ErrInvalid)
	}
	switch c.Storage.Driver {
	case "", "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("%w: storage.db_path is required for sqlite", ErrInvalid)
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: storage.redis_addr is required for redis", ErrInvalid)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalid, c.Storage.Driver)
	}
	return nil
}
