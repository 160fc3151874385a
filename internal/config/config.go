package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	ForecastAPIKey     string
	ForecastAPIURL     string
	ForecastAPITimeout time.Duration

	// Fixed geographic point queried on every request (CRS84 lon/lat).
	Longitude float64
	Latitude  float64

	// Feels-like temperature at or below which the verdict is cold, Celsius.
	ColdThreshold float64

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	// CORSOrigin is the Access-Control-Allow-Origin value, "*" or one origin.
	CORSOrigin string

	ShutdownTimeout         time.Duration
	PendingWriteTimeout     time.Duration
	PendingWriteCheckPeriod time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"forecast_api"`

	Location struct {
		Longitude *float64 `yaml:"longitude"`
		Latitude  *float64 `yaml:"latitude"`
	} `yaml:"location"`

	Verdict struct {
		ColdThreshold *float64 `yaml:"cold_threshold"`
	} `yaml:"verdict"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	CORS struct {
		Origin string `yaml:"origin"`
	} `yaml:"cors"`

	Shutdown struct {
		Timeout                 string `yaml:"timeout"`
		PendingWriteTimeout     string `yaml:"pending_write_timeout"`
		PendingWriteCheckPeriod string `yaml:"pending_write_check_period"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	ForecastAPIKey string `yaml:"forecast_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. The API key comes from DMI_API_KEY env or the secrets
// file. A .env file is honored for local development. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ForecastAPIKey = os.Getenv("DMI_API_KEY")
	if cfg.ForecastAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.ForecastAPIKey = sec.ForecastAPIKey
		}
	}
	if cfg.ForecastAPIKey == "" {
		return nil, fmt.Errorf("DMI_API_KEY required (set env or config/secrets.yaml forecast_api_key)")
	}

	cfg.ForecastAPIURL = fc.ForecastAPI.URL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://dmigw.govcloud.dk/v1/forecastedr/collections/harmonie_dini_sf/position"
	}
	cfg.ForecastAPITimeout = parseDuration(fc.ForecastAPI.Timeout, 5*time.Second)

	// Default point: Copenhagen.
	cfg.Longitude = 12.5683
	cfg.Latitude = 55.6761
	if fc.Location.Longitude != nil {
		cfg.Longitude = *fc.Location.Longitude
	}
	if fc.Location.Latitude != nil {
		cfg.Latitude = *fc.Location.Latitude
	}

	cfg.ColdThreshold = 5.0
	if fc.Verdict.ColdThreshold != nil {
		cfg.ColdThreshold = *fc.Verdict.ColdThreshold
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 300*time.Second)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CORSOrigin = strings.TrimSpace(fc.CORS.Origin)
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.PendingWriteTimeout = parseDuration(fc.Shutdown.PendingWriteTimeout, 15*time.Second)
	cfg.PendingWriteCheckPeriod = parseDuration(fc.Shutdown.PendingWriteCheckPeriod, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.ForecastAPITimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		return fmt.Errorf("location.longitude out of range: %s", strconv.FormatFloat(cfg.Longitude, 'f', -1, 64))
	}
	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return fmt.Errorf("location.latitude out of range: %s", strconv.FormatFloat(cfg.Latitude, 'f', -1, 64))
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
