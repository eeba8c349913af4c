package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("CAMPUS_ORIGIN", "")
	t.Setenv("CAMPUS_PORT", "")
	path := writeConfig(t, `
server:
  port: 9090
  origin: https://campus.example/
cache:
  app: uni
  version: 4
  backend: leveldb
  staleThreshold: 30m
  dataTimeout: 1500ms
routes:
  dataPrefixes: ["/api/grades"]
precache:
  urls: ["/", "/offline.css"]
  cookie: "session=abc"
worker:
  skipWaiting: false
connectivity:
  interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://campus.example", cfg.Server.Origin)
	assert.Equal(t, "./data/campus-cache", cfg.Cache.LevelDBPath)
	assert.Equal(t, 30*time.Minute, cfg.StaleThreshold())
	assert.Equal(t, 1500*time.Millisecond, cfg.DataTimeout())
	assert.Equal(t, 2*time.Second, cfg.ProbeInterval())
	assert.Equal(t, "/", cfg.Connectivity.ProbePath)
	assert.Equal(t, "/api/", cfg.Routes.APIPrefix)

	wc := cfg.WorkerConfig()
	assert.Equal(t, "uni", wc.App)
	assert.Equal(t, 4, wc.Version)
	assert.False(t, wc.SkipWaiting)
	assert.Equal(t, []string{"/", "/offline.css"}, wc.Precache)
	assert.Equal(t, "session=abc", wc.PrecacheHeaders.Get("Cookie"))
	assert.Equal(t, []string{"/api/grades"}, wc.Classify.DataPrefixes)
	assert.NotEmpty(t, wc.Classify.StaticPatterns)
	assert.Equal(t, 30*time.Minute, wc.Strategy.StaleThreshold)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CAMPUS_ORIGIN", "http://localhost:5173")
	t.Setenv("CAMPUS_PORT", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.StaleThreshold())
	assert.Equal(t, 3*time.Second, cfg.DataTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.WorkerConfig().SkipWaiting)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  origin: https://campus.example\n  port: 9000\n")
	t.Setenv("CAMPUS_PORT", "7000")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "campus", cfg.Cache.RedisPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("CAMPUS_ORIGIN", "")
	tests := []struct {
		name string
		body string
	}{
		{name: "missing origin", body: "server:\n  port: 80\n"},
		{name: "origin with path", body: "server:\n  origin: https://campus.example/app/\n"},
		{name: "bad backend", body: "server:\n  origin: http://x\ncache:\n  backend: s3\n"},
		{name: "bad duration", body: "server:\n  origin: http://x\ncache:\n  dataTimeout: soon\n"},
		{name: "negative duration", body: "server:\n  origin: http://x\ncache:\n  staleThreshold: -1h\n"},
		{name: "bad yaml", body: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
