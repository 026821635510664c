// Package main is the entry point for the histfetch CLI.
//
// Usage:
//
//	histfetch get AAPL 2020-01-01 2020-12-31       # One table to stdout
//	histfetch batch -f jobs.yaml --out-dir data    # Many tables, one file each
//	histfetch version                              # Show version info
//
// Settings come from HISTFETCH_* environment variables and are overridden by
// flags.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/histfetch/internal/config"
	"github.com/Sternrassler/histfetch/pkg/batch"
	"github.com/Sternrassler/histfetch/pkg/client"
	"github.com/Sternrassler/histfetch/pkg/logging"
	"github.com/Sternrassler/histfetch/pkg/metrics"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app holds the settings resolved for one command invocation.
type app struct {
	env            config.Env
	policy         batch.Policy
	requestTimeout time.Duration
	metricsAddr    string
	logger         zerolog.Logger
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "histfetch",
		Short: "Fetch historical daily price tables",
		Long: `histfetch downloads historical daily price tables (CSV) for ticker
symbols over date ranges, many at a time with a bounded number of requests
in flight.

Environment:
  HISTFETCH_BASE_URL      table endpoint
  HISTFETCH_CONCURRENCY   requests in flight (default 20)
  HISTFETCH_MEMOIZE       serve repeated identical requests from a cache
  HISTFETCH_REDIS_ADDR    hold memoized responses in Redis
  HISTFETCH_USER_AGENT    User-Agent header
  HISTFETCH_HTTP_TIMEOUT  per-request HTTP timeout (e.g. 30s)
  HISTFETCH_LOG_LEVEL     debug, info, warn, error
  HISTFETCH_LOG_PRETTY    console log output instead of JSON`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("base-url", "", "table endpoint URL")
	flags.Int("concurrency", 0, "maximum requests in flight")
	flags.Bool("memoize", false, "serve repeated identical requests from a cache")
	flags.String("redis-addr", "", "Redis address for the memoization cache")
	flags.String("user-agent", "", "User-Agent header")
	flags.Duration("http-timeout", 0, "HTTP timeout per request (0 = none)")
	flags.Duration("request-timeout", 0, "timeout per request including cache lookups (0 = none)")
	flags.String("policy", "", "failure policy: fail-fast or drain")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	root.AddCommand(newVersionCmd(), newGetCmd(a), newBatchCmd(a))
	return root
}

// setup resolves settings, configures logging and starts the metrics server.
func (a *app) setup(cmd *cobra.Command) error {
	env, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		env.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("concurrency") {
		env.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("memoize") {
		env.Memoize, _ = flags.GetBool("memoize")
	}
	if flags.Changed("redis-addr") {
		env.RedisAddr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("user-agent") {
		env.UserAgent, _ = flags.GetString("user-agent")
	}
	if flags.Changed("http-timeout") {
		env.HTTPTimeout, _ = flags.GetDuration("http-timeout")
	}
	if flags.Changed("log-level") {
		raw, _ := flags.GetString("log-level")
		if env.LogLevel, err = logging.ParseLevel(raw); err != nil {
			return err
		}
	}
	if flags.Changed("log-pretty") {
		env.LogPretty, _ = flags.GetBool("log-pretty")
	}

	rawPolicy, _ := flags.GetString("policy")
	if a.policy, err = batch.ParsePolicy(rawPolicy); err != nil {
		return err
	}
	a.requestTimeout, _ = flags.GetDuration("request-timeout")
	a.metricsAddr, _ = flags.GetString("metrics-addr")
	a.env = env

	logCfg := env.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.Fields = map[string]string{"version": version}
	logging.Setup(logCfg)
	a.logger = logging.NewLogger("cli")

	if a.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(cmd.Context(), a.metricsAddr); err != nil {
				a.logger.Error().Err(err).Str("addr", a.metricsAddr).Msg("Metrics server failed")
			}
		}()
	}
	return nil
}

// clientConfig returns the client configuration for the resolved settings.
func (a *app) clientConfig() client.Config {
	cfg := a.env.ClientConfig()
	cfg.Policy = a.policy
	cfg.RequestTimeout = a.requestTimeout
	return cfg
}

// newClient creates a client for cfg. With memoization and a Redis address
// the cache is held in Redis. The returned func closes both.
func (a *app) newClient(ctx context.Context, cfg client.Config) (*client.Client, func(), error) {
	var rdb *redis.Client
	if cfg.Memoize && a.env.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: a.env.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", a.env.RedisAddr, err)
		}
		a.logger.Info().Str("addr", a.env.RedisAddr).Msg("Connected to Redis")
		cfg.Redis = rdb
	}

	c, err := client.New(cfg)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to clear cache")
		}
		if rdb != nil {
			rdb.Close()
		}
	}
	return c, cleanup, nil
}

// httpClient returns the HTTP client for the resolved settings.
func (a *app) httpClient() *http.Client {
	return &http.Client{Timeout: a.env.HTTPTimeout}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of this histfetch binary.`,
		// Skip the root setup; version needs no settings.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "histfetch %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}
