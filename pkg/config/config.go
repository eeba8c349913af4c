// Package config loads the campus-proxy configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/classify"
	"github.com/Sternrassler/campus-offline/pkg/strategy"
	"github.com/Sternrassler/campus-offline/pkg/worker"
)

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendLevelDB = "leveldb"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Cache struct {
		App            string `yaml:"app"`
		Version        int    `yaml:"version"`
		Backend        string `yaml:"backend"`
		RedisAddr      string `yaml:"redisAddr"`
		RedisPrefix    string `yaml:"redisPrefix"`
		LevelDBPath    string `yaml:"leveldbPath"`
		StaleThreshold string `yaml:"staleThreshold"`
		DataTimeout    string `yaml:"dataTimeout"`
	} `yaml:"cache"`

	Routes struct {
		StaticPrefixes []string `yaml:"staticPrefixes"`
		StaticPatterns []string `yaml:"staticPatterns"`
		DataPrefixes   []string `yaml:"dataPrefixes"`
		APIPrefix      string   `yaml:"apiPrefix"`
	} `yaml:"routes"`

	Precache struct {
		URLs        []string `yaml:"urls"`
		Cookie      string   `yaml:"cookie"`
		Concurrency int      `yaml:"concurrency"`
	} `yaml:"precache"`

	Worker struct {
		SkipWaiting *bool  `yaml:"skipWaiting"`
		SyncTag     string `yaml:"syncTag"`
	} `yaml:"worker"`

	Connectivity struct {
		ProbePath string `yaml:"probePath"`
		Interval  string `yaml:"interval"`
	} `yaml:"connectivity"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	// parsed
	staleThreshold time.Duration
	dataTimeout    time.Duration
	probeInterval  time.Duration
}

// Load reads the YAML file at path. An empty path loads defaults only.
// Environment variables override the file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Origin = getEnv("CAMPUS_ORIGIN", c.Server.Origin)
	if port := os.Getenv("CAMPUS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("CAMPUS_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		c.Cache.RedisAddr = addr
		if c.Cache.Backend == "" {
			c.Cache.Backend = BackendRedis
		}
	}
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	return nil
}

func (c *Config) finish() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")
	origin, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if origin.Path != "" {
		return fmt.Errorf("server.origin: %q must not have a path", c.Server.Origin)
	}

	if c.Cache.App == "" {
		c.Cache.App = "campus"
	}
	if c.Cache.Version == 0 {
		c.Cache.Version = 1
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			c.Cache.RedisAddr = "localhost:6379"
		}
		if c.Cache.RedisPrefix == "" {
			c.Cache.RedisPrefix = cache.DefaultRedisPrefix
		}
	case BackendLevelDB:
		if c.Cache.LevelDBPath == "" {
			c.Cache.LevelDBPath = "./data/campus-cache"
		}
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}

	if c.staleThreshold, err = parseDuration("cache.staleThreshold", c.Cache.StaleThreshold, cache.StaleThreshold); err != nil {
		return err
	}
	if c.dataTimeout, err = parseDuration("cache.dataTimeout", c.Cache.DataTimeout, strategy.DefaultDataTimeout); err != nil {
		return err
	}
	if c.probeInterval, err = parseDuration("connectivity.interval", c.Connectivity.Interval, 10*time.Second); err != nil {
		return err
	}
	if c.Connectivity.ProbePath == "" {
		c.Connectivity.ProbePath = "/"
	}

	routes := classify.DefaultConfig()
	if len(c.Routes.StaticPrefixes) == 0 {
		c.Routes.StaticPrefixes = routes.StaticPrefixes
	}
	if len(c.Routes.StaticPatterns) == 0 {
		c.Routes.StaticPatterns = routes.StaticPatterns
	}
	if len(c.Routes.DataPrefixes) == 0 {
		c.Routes.DataPrefixes = routes.DataPrefixes
	}
	if c.Routes.APIPrefix == "" {
		c.Routes.APIPrefix = routes.APIPrefix
	}

	if c.Precache.URLs == nil {
		c.Precache.URLs = worker.DefaultConfig().Precache
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", field)
	}
	return d, nil
}

// StaleThreshold returns the parsed cache.staleThreshold.
func (c Config) StaleThreshold() time.Duration { return c.staleThreshold }

// DataTimeout returns the parsed cache.dataTimeout.
func (c Config) DataTimeout() time.Duration { return c.dataTimeout }

// ProbeInterval returns the parsed connectivity.interval.
func (c Config) ProbeInterval() time.Duration { return c.probeInterval }

// WorkerConfig builds the worker settings, version excluded.
func (c Config) WorkerConfig() worker.Config {
	wc := worker.DefaultConfig()
	wc.App = c.Cache.App
	wc.Version = c.Cache.Version
	wc.Origin = c.Server.Origin
	wc.Precache = c.Precache.URLs
	if c.Precache.Concurrency > 0 {
		wc.PrecacheConcurrency = c.Precache.Concurrency
	}
	if c.Precache.Cookie != "" {
		wc.PrecacheHeaders = http.Header{"Cookie": []string{c.Precache.Cookie}}
	}
	if c.Worker.SkipWaiting != nil {
		wc.SkipWaiting = *c.Worker.SkipWaiting
	}
	if c.Worker.SyncTag != "" {
		wc.SyncTag = c.Worker.SyncTag
	}
	wc.Classify = classify.Config{
		StaticPrefixes: c.Routes.StaticPrefixes,
		StaticPatterns: c.Routes.StaticPatterns,
		DataPrefixes:   c.Routes.DataPrefixes,
		APIPrefix:      c.Routes.APIPrefix,
	}
	wc.Strategy.DataTimeout = c.dataTimeout
	wc.Strategy.StaleThreshold = c.staleThreshold
	return wc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
