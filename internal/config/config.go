// Package config loads histfetch CLI settings from the environment and batch
// job definitions from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/histfetch/pkg/client"
	"github.com/Sternrassler/histfetch/pkg/logging"
)

// Environment variables read by Load.
const (
	EnvBaseURL     = "HISTFETCH_BASE_URL"
	EnvConcurrency = "HISTFETCH_CONCURRENCY"
	EnvMemoize     = "HISTFETCH_MEMOIZE"
	EnvRedisAddr   = "HISTFETCH_REDIS_ADDR"
	EnvLogLevel    = "HISTFETCH_LOG_LEVEL"
	EnvLogPretty   = "HISTFETCH_LOG_PRETTY"
	EnvUserAgent   = "HISTFETCH_USER_AGENT"
	EnvHTTPTimeout = "HISTFETCH_HTTP_TIMEOUT"
)

// Env holds settings taken from the environment.
type Env struct {
	BaseURL     string
	Concurrency int
	Memoize     bool
	// RedisAddr enables the Redis cache layer for memoization
	RedisAddr   string
	LogLevel    logging.LogLevel
	LogPretty   bool
	UserAgent   string
	HTTPTimeout time.Duration
}

// Load reads Env from the process environment. Unset variables keep the
// client defaults.
func Load() (Env, error) {
	defaults := client.DefaultConfig()
	env := Env{
		BaseURL:   getEnv(EnvBaseURL, defaults.BaseURL),
		RedisAddr: getEnv(EnvRedisAddr, ""),
		UserAgent: getEnv(EnvUserAgent, defaults.UserAgent),
	}

	var err error
	if env.Concurrency, err = getInt(EnvConcurrency, defaults.ConcurrencyCap); err != nil {
		return Env{}, err
	}
	if env.Memoize, err = getBool(EnvMemoize, defaults.Memoize); err != nil {
		return Env{}, err
	}
	if env.LogPretty, err = getBool(EnvLogPretty, false); err != nil {
		return Env{}, err
	}
	if env.HTTPTimeout, err = getDuration(EnvHTTPTimeout, defaults.HTTPTimeout); err != nil {
		return Env{}, err
	}
	if env.LogLevel, err = logging.ParseLevel(getEnv(EnvLogLevel, "")); err != nil {
		return Env{}, fmt.Errorf("%s: %w", EnvLogLevel, err)
	}

	if env.Concurrency < 1 {
		return Env{}, fmt.Errorf("%s must be >= 1 (got %d)", EnvConcurrency, env.Concurrency)
	}
	return env, nil
}

// ClientConfig returns the client configuration for env. Redis is left for
// the caller to connect.
func (e Env) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.BaseURL = e.BaseURL
	cfg.ConcurrencyCap = e.Concurrency
	cfg.Memoize = e.Memoize
	cfg.UserAgent = e.UserAgent
	cfg.HTTPTimeout = e.HTTPTimeout
	return cfg
}

// LoggingConfig returns the logger configuration for env.
func (e Env) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = e.LogLevel
	cfg.Pretty = e.LogPretty
	return cfg
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return v, nil
}
