package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FeedConfig describes a single subscribed ICS feed whose events are
// imported into the store.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
	// Categories are attached to every imported event.
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the write API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig controls the versioned response cache.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	MaxItems int           `yaml:"max_items" json:"max_items"`
	// SweepCron schedules removal of expired entries.
	SweepCron string `yaml:"sweep" json:"sweep"`
}

// VersionsConfig selects where cache version counters live.
type VersionsConfig struct {
	// Backend is "memory" (default) or "dynamodb".
	Backend     string `yaml:"backend" json:"backend"`
	DynamoTable string `yaml:"dynamodb_table,omitempty" json:"dynamodb_table,omitempty"`
	Region      string `yaml:"region,omitempty" json:"region,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone applied to events without their own.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// SeedFile is an optional YAML file of events loaded at startup.
	SeedFile string `yaml:"seed_file,omitempty" json:"seed_file,omitempty"`

	// MaxOccurrencesPerEvent caps a single event's expansion.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// DefaultPerPage / MaxPerPage bound /events pagination.
	DefaultPerPage int `yaml:"default_per_page" json:"default_per_page"`
	MaxPerPage     int `yaml:"max_per_page" json:"max_per_page"`

	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Versions VersionsConfig `yaml:"versions" json:"versions"`

	// Feeds are ICS subscriptions imported on RefreshCron.
	Feeds        []FeedConfig `yaml:"feeds" json:"feeds"`
	RefreshCron  string       `yaml:"refresh" json:"refresh"`
	FeedCacheDir string       `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// CORSOrigins lists browser origins allowed to call the read API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if set, enables the write API and identifies callers.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "UTC",
		LogLevel:               "info",
		MaxOccurrencesPerEvent: 5000,
		DefaultPerPage:         20,
		MaxPerPage:             100,
		Cache: CacheConfig{
			TTL:       time.Hour,
			MaxItems:  1000,
			SweepCron: "*/10 * * * *",
		},
		Versions:     VersionsConfig{Backend: "memory"},
		Feeds:        []FeedConfig{},
		RefreshCron:  "*/15 * * * *",
		FeedCacheDir: "./var/feed-cache",
		CORSOrigins:  []string{"*"},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = d.MaxOccurrencesPerEvent
	}
	if c.DefaultPerPage <= 0 {
		c.DefaultPerPage = d.DefaultPerPage
	}
	if c.MaxPerPage <= 0 {
		c.MaxPerPage = d.MaxPerPage
	}
	if c.DefaultPerPage > c.MaxPerPage {
		c.DefaultPerPage = c.MaxPerPage
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.MaxItems <= 0 {
		c.Cache.MaxItems = d.Cache.MaxItems
	}
	if c.Cache.SweepCron == "" {
		c.Cache.SweepCron = d.Cache.SweepCron
	}
	switch c.Versions.Backend {
	case "memory", "dynamodb":
	default:
		// Unknown backend; fall back to memory so a typo does not stop startup.
		c.Versions.Backend = "memory"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = d.FeedCacheDir
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = d.CORSOrigins
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WriteEnabled reports whether the write API is configured.
func (c *Config) WriteEnabled() bool {
	return c.BasicAuth != nil && c.BasicAuth.Username != "" && c.BasicAuth.Password != ""
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
//
// EVCAL_* environment variables (optionally from a .env file next to the
// working directory) override file values in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			cfg.ApplyEnv(os.LookupEnv)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()

	return &cfg, nil
}

// ApplyEnv overrides fields from EVCAL_* variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("EVCAL_LISTEN", &c.Listen)
	str("EVCAL_TIMEZONE", &c.Timezone)
	str("EVCAL_LOG_LEVEL", &c.LogLevel)
	str("EVCAL_SEED_FILE", &c.SeedFile)
	str("EVCAL_VERSIONS_BACKEND", &c.Versions.Backend)
	str("EVCAL_DYNAMODB_TABLE", &c.Versions.DynamoTable)
	str("EVCAL_AWS_REGION", &c.Versions.Region)

	if v, ok := lookup("EVCAL_CACHE_TTL"); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			c.Cache.TTL = d
		}
	}
	if v, ok := lookup("EVCAL_MAX_OCCURRENCES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.MaxOccurrencesPerEvent = n
		}
	}

	user, uok := lookup("EVCAL_BASIC_AUTH_USER")
	pass, pok := lookup("EVCAL_BASIC_AUTH_PASSWORD")
	if uok && pok && user != "" && pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
