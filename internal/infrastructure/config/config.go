package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Store     StoreConfig
	Loader    LoaderConfig
	Memory    MemoryConfig
	Host      HostConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// EngineConfig holds sandboxing engine connection settings.
type EngineConfig struct {
	Mode    string        `envconfig:"ENGINE_MODE" default:"http"` // "http" or "memory"
	Address string        `envconfig:"ENGINE_ADDR" default:"http://localhost:50051"`
	Timeout time.Duration `envconfig:"ENGINE_TIMEOUT" default:"10s"`
	RPS     float64       `envconfig:"ENGINE_RPS" default:"0"` // 0 disables client-side limiting
}

// StoreConfig selects the key-value backend behind the order store.
type StoreConfig struct {
	Driver      string `envconfig:"STORE_DRIVER" default:"sqlite"` // "sqlite", "redis" or "memory"
	Path        string `envconfig:"STORE_PATH" default:"/tmp/prison/registry.db"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB     int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"prison:"`
}

// LoaderConfig holds inventory loading settings.
type LoaderConfig struct {
	MaxAttempts int           `envconfig:"LOAD_MAX_ATTEMPTS" default:"3"`
	AbsentDelay time.Duration `envconfig:"LOAD_ABSENT_DELAY" default:"100ms"`
	ErrorDelay  time.Duration `envconfig:"LOAD_ERROR_DELAY" default:"200ms"`
	IconMaxEdge int           `envconfig:"ICON_MAX_EDGE" default:"96"`
	CheckEvery  int           `envconfig:"MEMORY_CHECK_EVERY" default:"25"`
}

// MemoryConfig holds memory pressure thresholds.
type MemoryConfig struct {
	LimitBytes      uint64        `envconfig:"MEMORY_LIMIT_BYTES" default:"0"` // 0: GOMEMLIMIT, then physical memory
	WarnPercent     float64       `envconfig:"MEMORY_WARN_PERCENT" default:"75"`
	CriticalPercent float64       `envconfig:"MEMORY_CRITICAL_PERCENT" default:"90"`
	OptimizePercent float64       `envconfig:"MEMORY_OPTIMIZE_PERCENT" default:"70"`
	CollectSettle   time.Duration `envconfig:"MEMORY_COLLECT_SETTLE" default:"100ms"`
}

// HostConfig describes the host application and its local package archives.
type HostConfig struct {
	Package     string   `envconfig:"HOST_PACKAGE" default:"com.android.prison"`
	AppsDir     string   `envconfig:"HOST_APPS_DIR" default:"/tmp/prison/apps"`
	AppsPattern string   `envconfig:"HOST_APPS_PATTERN" default:"**/*.apk"`
	Markers     []string `envconfig:"SELF_INSTALL_MARKERS" default:"prison,niunaijun,vspace,virtual"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			Mode:    "http",
			Address: "http://localhost:50051",
			Timeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "/tmp/prison/registry.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "prison:",
		},
		Loader: LoaderConfig{
			MaxAttempts: 3,
			AbsentDelay: 100 * time.Millisecond,
			ErrorDelay:  200 * time.Millisecond,
			IconMaxEdge: 96,
			CheckEvery:  25,
		},
		Memory: MemoryConfig{
			WarnPercent:     75,
			CriticalPercent: 90,
			OptimizePercent: 70,
			CollectSettle:   100 * time.Millisecond,
		},
		Host: HostConfig{
			Package:     "com.android.prison",
			AppsDir:     "/tmp/prison/apps",
			AppsPattern: "**/*.apk",
			Markers:     []string{"prison", "niunaijun", "vspace", "virtual"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
