package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete ventfeed configuration
type Config struct {
	Session       Session       `yaml:"session"`
	Backend       Backend       `yaml:"backend"`
	Feed          Feed          `yaml:"feed"`
	Subscriptions Subscriptions `yaml:"subscriptions"`
	Caching       Caching       `yaml:"caching"`
	Upload        Upload        `yaml:"upload"`
	Preview       Preview       `yaml:"preview"`
	Logging       Logging       `yaml:"logging"`
}

// Session identifies the viewer the engine runs on behalf of.
// Passed explicitly into the engine constructor; there is no ambient
// global identity.
type Session struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
	Emoji    string `yaml:"emoji"` // avatar fallback when no picture is set
}

// Backend selects and configures the external change-source collaborator
type Backend struct {
	Driver    string    `yaml:"driver"` // memory|sqlite|websocket
	SQLite    SQLite    `yaml:"sqlite"`
	WebSocket WebSocket `yaml:"websocket"`
}

// SQLite contains local durable backend settings
type SQLite struct {
	Path string `yaml:"path"`
}

// WebSocket contains remote change-feed settings
type WebSocket struct {
	URL              string `yaml:"url"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

// Feed contains feed behavior settings
type Feed struct {
	Categories  []string `yaml:"categories"`
	MaxBodyLen  int      `yaml:"max_body_len"`
	PageSize    int      `yaml:"page_size"`
	CountBudget int      `yaml:"count_budget"` // reply-count nodes visited before yielding
}

// Subscriptions contains live subscription policy
type Subscriptions struct {
	Resubscribe Resubscribe `yaml:"resubscribe"`
	BufferSize  int         `yaml:"buffer_size"`
}

// Resubscribe controls automatic recovery of a dropped subscription.
// Disabled by default; when enabled the backoff ladder is walked once per
// consecutive failure and the last entry repeats.
type Resubscribe struct {
	Enabled   bool  `yaml:"enabled"`
	BackoffMs []int `yaml:"backoff_ms"`
}

// Caching contains counts-cache configuration
type Caching struct {
	Engine   string `yaml:"engine"` // memory|redis
	RedisURL string `yaml:"redis_url"`
	TTLSecs  int    `yaml:"ttl_seconds"`
}

// Upload contains object storage settings for profile pictures
type Upload struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"` // base URL for returned object links
}

// Preview contains link preview settings
type Preview struct {
	Enabled        bool `yaml:"enabled"`
	FetchOgImages  bool `yaml:"fetch_og_images"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

var validBackendDrivers = map[string]bool{
	"memory":    true,
	"sqlite":    true,
	"websocket": true,
}

var validCacheEngines = map[string]bool{
	"memory": true,
	"redis":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// DefaultCategories is the fixed tag set posts may carry.
var DefaultCategories = []string{"Rant", "Joy", "Confession", "Question", "Advice", "Random"}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Backend: Backend{
			Driver: "memory",
			SQLite: SQLite{Path: "ventfeed.db"},
			WebSocket: WebSocket{
				ConnectTimeoutMs: 10000,
			},
		},
		Feed: Feed{
			Categories:  DefaultCategories,
			MaxBodyLen:  2000,
			PageSize:    50,
			CountBudget: 256,
		},
		Subscriptions: Subscriptions{
			BufferSize: 256,
			Resubscribe: Resubscribe{
				Enabled:   false,
				BackoffMs: []int{500, 1000, 5000, 15000},
			},
		},
		Caching: Caching{
			Engine:  "memory",
			TTLSecs: 300,
		},
		Preview: Preview{
			Enabled:        true,
			FetchOgImages:  false,
			TimeoutSeconds: 5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Backend.Driver == "" {
		cfg.Backend.Driver = defaults.Backend.Driver
	}
	if cfg.Backend.SQLite.Path == "" {
		cfg.Backend.SQLite.Path = defaults.Backend.SQLite.Path
	}
	if cfg.Backend.WebSocket.ConnectTimeoutMs == 0 {
		cfg.Backend.WebSocket.ConnectTimeoutMs = defaults.Backend.WebSocket.ConnectTimeoutMs
	}
	if len(cfg.Feed.Categories) == 0 {
		cfg.Feed.Categories = defaults.Feed.Categories
	}
	if cfg.Feed.MaxBodyLen == 0 {
		cfg.Feed.MaxBodyLen = defaults.Feed.MaxBodyLen
	}
	if cfg.Feed.PageSize == 0 {
		cfg.Feed.PageSize = defaults.Feed.PageSize
	}
	if cfg.Feed.CountBudget == 0 {
		cfg.Feed.CountBudget = defaults.Feed.CountBudget
	}
	if cfg.Subscriptions.BufferSize == 0 {
		cfg.Subscriptions.BufferSize = defaults.Subscriptions.BufferSize
	}
	if len(cfg.Subscriptions.Resubscribe.BackoffMs) == 0 {
		cfg.Subscriptions.Resubscribe.BackoffMs = defaults.Subscriptions.Resubscribe.BackoffMs
	}
	if cfg.Caching.Engine == "" {
		cfg.Caching.Engine = defaults.Caching.Engine
	}
	if cfg.Caching.TTLSecs == 0 {
		cfg.Caching.TTLSecs = defaults.Caching.TTLSecs
	}
	if cfg.Preview.TimeoutSeconds == 0 {
		cfg.Preview.TimeoutSeconds = defaults.Preview.TimeoutSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if redisURL := os.Getenv("VENTFEED_REDIS_URL"); redisURL != "" {
		cfg.Caching.RedisURL = redisURL
	}
	if accessKey := os.Getenv("VENTFEED_UPLOAD_ACCESS_KEY"); accessKey != "" {
		cfg.Upload.AccessKey = accessKey
	}
	if secretKey := os.Getenv("VENTFEED_UPLOAD_SECRET_KEY"); secretKey != "" {
		cfg.Upload.SecretKey = secretKey
	}
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if cfg.Session.UserID == "" {
		return fmt.Errorf("session.user_id is required")
	}
	if cfg.Session.Username == "" {
		return fmt.Errorf("session.username is required")
	}

	if !validBackendDrivers[cfg.Backend.Driver] {
		return fmt.Errorf("invalid backend driver: %s (must be one of: memory, sqlite, websocket)", cfg.Backend.Driver)
	}
	if cfg.Backend.Driver == "websocket" {
		url := cfg.Backend.WebSocket.URL
		if url == "" {
			return fmt.Errorf("backend.websocket.url is required for the websocket driver")
		}
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("backend.websocket.url must start with ws:// or wss://: %s", url)
		}
	}

	if !validCacheEngines[cfg.Caching.Engine] {
		return fmt.Errorf("invalid cache engine: %s (must be one of: memory, redis)", cfg.Caching.Engine)
	}
	if cfg.Caching.Engine == "redis" && cfg.Caching.RedisURL == "" {
		return fmt.Errorf("caching.redis_url is required for the redis engine")
	}

	if cfg.Upload.Enabled {
		if cfg.Upload.Endpoint == "" {
			return fmt.Errorf("upload.endpoint is required when upload is enabled")
		}
		if cfg.Upload.Bucket == "" {
			return fmt.Errorf("upload.bucket is required when upload is enabled")
		}
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}

	if cfg.Subscriptions.Resubscribe.Enabled {
		for _, ms := range cfg.Subscriptions.Resubscribe.BackoffMs {
			if ms <= 0 {
				return fmt.Errorf("subscriptions.resubscribe.backoff_ms entries must be positive")
			}
		}
	}

	return nil
}
