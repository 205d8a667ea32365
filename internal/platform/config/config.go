// Package config resolves process configuration from defaults, an optional
// YAML file and NIMBUS_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nimbus/internal/experiments/models"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Storage           Storage           `yaml:"storage"`
	Catalog           Catalog           `yaml:"catalog"`
	Server            Server            `yaml:"server"`
	Log               Log               `yaml:"log"`
	App               models.AppContext `yaml:"app"`
	RandomizationUnit string            `yaml:"randomization_unit"`
	RatioWeighting    bool              `yaml:"ratio_weighting"`
	ResetOnCorrupt    bool              `yaml:"reset_on_corrupt"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend     string      `yaml:"backend"`
	Path        string      `yaml:"path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Catalog configures the remote catalog client. Empty endpoint fields fall
// back to the engine defaults.
type Catalog struct {
	ServerURL      string        `yaml:"server_url"`
	CollectionName string        `yaml:"collection"`
	BucketName     string        `yaml:"bucket"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryAttempts  uint          `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend: BackendSQLite,
			Path:    ".nimbus",
			Redis: RedisConfig{
				KeyPrefix:    "nimbus:",
				PoolSize:     10,
				MinIdleConns: 1,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Catalog: Catalog{
			Timeout:       10 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Server: Server{Addr: ":8080"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// FromEnv builds a Config from defaults and the environment so main stays lean.
func FromEnv() (Config, error) {
	return Load("")
}

// Load layers the YAML file at path (if non-empty) and then the environment
// over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"NIMBUS_BACKEND":             &cfg.Storage.Backend,
		"NIMBUS_STORAGE_PATH":        &cfg.Storage.Path,
		"NIMBUS_POSTGRES_DSN":        &cfg.Storage.PostgresDSN,
		"NIMBUS_REDIS_URL":           &cfg.Storage.Redis.URL,
		"NIMBUS_SERVER_URL":          &cfg.Catalog.ServerURL,
		"NIMBUS_COLLECTION":          &cfg.Catalog.CollectionName,
		"NIMBUS_BUCKET":              &cfg.Catalog.BucketName,
		"NIMBUS_UUID":                &cfg.RandomizationUnit,
		"NIMBUS_ADDR":                &cfg.Server.Addr,
		"NIMBUS_LOG_LEVEL":           &cfg.Log.Level,
		"NIMBUS_LOG_FORMAT":          &cfg.Log.Format,
		"NIMBUS_APP_ID":              &cfg.App.AppID,
		"NIMBUS_APP_VERSION":         &cfg.App.AppVersion,
		"NIMBUS_LOCALE_LANGUAGE":     &cfg.App.LocaleLanguage,
		"NIMBUS_LOCALE_COUNTRY":      &cfg.App.LocaleCountry,
		"NIMBUS_DEVICE_MANUFACTURER": &cfg.App.DeviceManufacturer,
		"NIMBUS_DEVICE_MODEL":        &cfg.App.DeviceModel,
		"NIMBUS_REGION":              &cfg.App.Region,
		"NIMBUS_DEBUG_TAG":           &cfg.App.DebugTag,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"NIMBUS_FETCH_TIMEOUT":     &cfg.Catalog.Timeout,
		"NIMBUS_FETCH_RETRY_DELAY": &cfg.Catalog.RetryDelay,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup("NIMBUS_FETCH_RETRIES"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("NIMBUS_FETCH_RETRIES: %w", err)
		}
		cfg.Catalog.RetryAttempts = uint(n)
	}

	bools := map[string]*bool{
		"NIMBUS_RATIO_WEIGHTING":  &cfg.RatioWeighting,
		"NIMBUS_RESET_ON_CORRUPT": &cfg.ResetOnCorrupt,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("sqlite backend requires a storage path")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return fmt.Errorf("postgres backend requires a dsn")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Storage.Redis.URL) == "" {
			return fmt.Errorf("redis backend requires a url")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
