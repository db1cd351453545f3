// Package config loads runtime settings for the CVE mirror.
// Values come from built-in defaults, then an optional YAML file, then
// environment variables, with later sources winning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Default configuration values.
const (
	// DefaultNVDURL is the NVD CVE API 2.0 endpoint.
	DefaultNVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	// DefaultPageSize is the largest page NVD serves for the CVE API.
	DefaultPageSize = 2000

	// DefaultPageDelay is the pause between consecutive page fetches.
	DefaultPageDelay = 1 * time.Second

	// DefaultMaxAttempts bounds fetch attempts for one page.
	DefaultMaxAttempts = 3

	// DefaultBackoffInitial is the first retry delay; later delays double.
	DefaultBackoffInitial = 1 * time.Second

	// DefaultLookback is used when no watermark has been stored yet.
	DefaultLookback = 30 * 24 * time.Hour

	// DefaultMaxWindow is the longest lastMod range NVD accepts in one query.
	DefaultMaxWindow = 120 * 24 * time.Hour

	// DefaultLockTTL is how long a run lock lives without being refreshed.
	DefaultLockTTL = 5 * time.Minute

	// DefaultPort matches the port the read API has always listened on.
	DefaultPort = "2040"
)

// NVD holds upstream feed settings.
type NVD struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	PageSize       int           `yaml:"page_size"`
	PageDelay      time.Duration `yaml:"page_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffJitter  float64       `yaml:"backoff_jitter"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

// Database holds document store settings.
type Database struct {
	Backend        string        `yaml:"backend"` // "arangodb" or "memory"
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Sync holds scheduling settings.
type Sync struct {
	IntervalDays   int           `yaml:"interval_days"`
	Lookback       time.Duration `yaml:"lookback"`
	MaxWindow      time.Duration `yaml:"max_window"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	InitialCollect bool          `yaml:"initial_collect"`
}

// Lock holds the cross-process run lock settings; an empty Redis URL keeps the lock in process.
type Lock struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// API holds read API settings.
type API struct {
	Port      string `yaml:"port"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client

	// Admin mounts the sync trigger routes; off unless explicitly enabled.
	Admin bool `yaml:"admin"`
}

// Kafka holds event settings; an empty broker list disables events.
type Kafka struct {
	Brokers      []string `yaml:"brokers"`
	APIKey       string   `yaml:"api_key"`
	APISecret    string   `yaml:"api_secret"`
	RequestTopic string   `yaml:"request_topic"`
	EventTopic   string   `yaml:"event_topic"`
}

// Config is the full runtime configuration.
type Config struct {
	NVD      NVD      `yaml:"nvd"`
	Database Database `yaml:"database"`
	Sync     Sync     `yaml:"sync"`
	Lock     Lock     `yaml:"lock"`
	API      API      `yaml:"api"`
	Kafka    Kafka    `yaml:"kafka"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		NVD: NVD{
			URL:            DefaultNVDURL,
			PageSize:       DefaultPageSize,
			PageDelay:      DefaultPageDelay,
			MaxAttempts:    DefaultMaxAttempts,
			BackoffInitial: DefaultBackoffInitial,
			HTTPTimeout:    60 * time.Second,
		},
		Database: Database{
			Backend:        "arangodb",
			Host:           "localhost",
			Port:           "8529",
			User:           "root",
			Password:       "mypassword",
			Name:           "nvd",
			ConnectTimeout: 2 * time.Minute,
		},
		Sync: Sync{
			IntervalDays:   1,
			Lookback:       DefaultLookback,
			MaxWindow:      DefaultMaxWindow,
			InitialCollect: true,
		},
		Lock: Lock{
			TTL: DefaultLockTTL,
		},
		API: API{
			Port:      DefaultPort,
			RateLimit: 5,
		},
		Kafka: Kafka{
			RequestTopic: "cve-sync-requests",
			EventTopic:   "cve-sync-events",
		},
	}
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	cfg.NVD.URL = GetEnvDefault("NVD_CVE_API", cfg.NVD.URL)
	cfg.NVD.APIKey = GetEnvDefault("NVD_API_KEY", cfg.NVD.APIKey)

	cfg.Database.Backend = GetEnvDefault("DB_BACKEND", cfg.Database.Backend)
	cfg.Database.Host = GetEnvDefault("ARANGO_HOST", cfg.Database.Host)
	cfg.Database.Port = GetEnvDefault("ARANGO_PORT", cfg.Database.Port)
	cfg.Database.User = GetEnvDefault("ARANGO_USER", cfg.Database.User)
	cfg.Database.Password = GetEnvDefault("ARANGO_PASS", cfg.Database.Password)
	cfg.Database.URL = GetEnvDefault("ARANGO_URL", cfg.Database.URL)
	cfg.Database.Name = GetEnvDefault("ARANGO_DATABASE", cfg.Database.Name)
	if cfg.Database.URL == "" {
		cfg.Database.URL = "http://" + cfg.Database.Host + ":" + cfg.Database.Port
	}

	cfg.Lock.RedisURL = GetEnvDefault("REDIS_URL", cfg.Lock.RedisURL)
	cfg.API.Port = GetEnvDefault("MS_PORT", cfg.API.Port)

	if brokers := GetEnvDefault("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.APIKey = GetEnvDefault("KAFKA_API_KEY", cfg.Kafka.APIKey)
	cfg.Kafka.APISecret = GetEnvDefault("KAFKA_API_SECRET", cfg.Kafka.APISecret)
	cfg.Kafka.RequestTopic = GetEnvDefault("KAFKA_REQUEST_TOPIC", cfg.Kafka.RequestTopic)
	cfg.Kafka.EventTopic = GetEnvDefault("KAFKA_EVENT_TOPIC", cfg.Kafka.EventTopic)

	var err error
	if cfg.NVD.PageSize, err = envInt("NVD_PAGE_SIZE", cfg.NVD.PageSize); err != nil {
		return err
	}
	if cfg.NVD.MaxAttempts, err = envInt("NVD_MAX_ATTEMPTS", cfg.NVD.MaxAttempts); err != nil {
		return err
	}
	if cfg.NVD.PageDelay, err = envDuration("NVD_PAGE_DELAY", cfg.NVD.PageDelay); err != nil {
		return err
	}
	if cfg.NVD.BackoffInitial, err = envDuration("NVD_BACKOFF_INITIAL", cfg.NVD.BackoffInitial); err != nil {
		return err
	}
	if cfg.NVD.BackoffJitter, err = envFloat("NVD_BACKOFF_JITTER", cfg.NVD.BackoffJitter); err != nil {
		return err
	}
	if cfg.NVD.HTTPTimeout, err = envDuration("NVD_HTTP_TIMEOUT", cfg.NVD.HTTPTimeout); err != nil {
		return err
	}
	if cfg.Database.ConnectTimeout, err = envDuration("ARANGO_CONNECT_TIMEOUT", cfg.Database.ConnectTimeout); err != nil {
		return err
	}
	if cfg.Sync.IntervalDays, err = envInt("SYNC_INTERVAL_DAYS", cfg.Sync.IntervalDays); err != nil {
		return err
	}
	if val, ok := os.LookupEnv("SYNC_LOOKBACK_DAYS"); ok && val != "" {
		days, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SYNC_LOOKBACK_DAYS: %w", err)
		}
		cfg.Sync.Lookback = time.Duration(days) * 24 * time.Hour
	}
	if cfg.Sync.RunTimeout, err = envDuration("SYNC_RUN_TIMEOUT", cfg.Sync.RunTimeout); err != nil {
		return err
	}
	if cfg.Sync.InitialCollect, err = envBool("SYNC_INITIAL_COLLECT", cfg.Sync.InitialCollect); err != nil {
		return err
	}
	if cfg.Lock.TTL, err = envDuration("SYNC_LOCK_TTL", cfg.Lock.TTL); err != nil {
		return err
	}
	if cfg.API.RateLimit, err = envInt("API_RATE_LIMIT", cfg.API.RateLimit); err != nil {
		return err
	}
	if cfg.API.Admin, err = envBool("API_ADMIN_ENABLED", cfg.API.Admin); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the collector cannot run with.
func (cfg *Config) Validate() error {
	switch {
	case cfg.NVD.URL == "":
		return fmt.Errorf("nvd url must be set")
	case cfg.NVD.PageSize <= 0 || cfg.NVD.PageSize > DefaultPageSize:
		return fmt.Errorf("page size must be between 1 and %d, got %d", DefaultPageSize, cfg.NVD.PageSize)
	case cfg.NVD.MaxAttempts <= 0:
		return fmt.Errorf("max attempts must be positive, got %d", cfg.NVD.MaxAttempts)
	case cfg.NVD.BackoffJitter < 0 || cfg.NVD.BackoffJitter >= 1:
		return fmt.Errorf("backoff jitter must be in [0,1), got %v", cfg.NVD.BackoffJitter)
	case cfg.Sync.IntervalDays <= 0:
		return fmt.Errorf("sync interval must be at least one day, got %d", cfg.Sync.IntervalDays)
	case cfg.Sync.Lookback <= 0:
		return fmt.Errorf("sync lookback must be positive")
	case cfg.Sync.MaxWindow <= 0:
		return fmt.Errorf("sync max window must be positive")
	case cfg.Lock.TTL <= 0:
		return fmt.Errorf("lock ttl must be positive")
	case cfg.Database.Backend != "arangodb" && cfg.Database.Backend != "memory":
		return fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
