// Package client is the entry point for fetching historical daily price
// tables. Queries are accumulated with Enqueue and sent together by RunAll
// with a bounded number of requests in flight.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/histfetch/pkg/batch"
	"github.com/Sternrassler/histfetch/pkg/cache"
	"github.com/Sternrassler/histfetch/pkg/logging"
	"github.com/Sternrassler/histfetch/pkg/request"
	"github.com/Sternrassler/histfetch/pkg/transport"
)

// Client queues table queries and runs them as one batch.
type Client struct {
	id        string
	config    Config
	builder   *request.Builder
	scheduler *batch.Scheduler
	memo      *transport.MemoSender
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// ConcurrencyCap is the maximum number of requests in flight (>= 1)
	ConcurrencyCap int

	// Memoize serves repeated identical URLs from a cache scoped to this client
	Memoize bool
	// CacheTTL bounds memoized entries. Zero keeps them until Close.
	CacheTTL time.Duration
	// Redis, when set, holds memoized responses instead of process memory
	Redis *redis.Client

	// BaseURL is the table endpoint
	BaseURL string
	// UserAgent header sent with every request
	UserAgent string
	// HTTPTimeout bounds each HTTP exchange. Zero means no timeout.
	HTTPTimeout time.Duration
	// HTTPClient overrides the default HTTP client
	HTTPClient *http.Client
	// Sender overrides the HTTP transport entirely (tests)
	Sender transport.Sender

	// Policy decides what a run does after the first failure
	Policy batch.Policy
	// RequestTimeout bounds each request including cache lookups
	RequestTimeout time.Duration
}

// DefaultConfig returns the default configuration: 20 requests in flight,
// no memoization, fail-fast runs.
func DefaultConfig() Config {
	return Config{
		ConcurrencyCap: 20,
		Memoize:        false,
		BaseURL:        request.DefaultBaseURL,
		UserAgent:      transport.DefaultUserAgent,
		Policy:         batch.PolicyFailFast,
	}
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.ConcurrencyCap < 1 {
		return nil, fmt.Errorf("%w: concurrency cap must be >= 1 (got %d)", ErrInvalidConfig, cfg.ConcurrencyCap)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = request.DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, cfg.BaseURL)
	}

	id := uuid.NewString()
	logger := logging.NewLogger("client").With().Str("client_id", id).Logger()

	sender := cfg.Sender
	if sender == nil {
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		sender = transport.NewHTTPSender(httpClient, cfg.UserAgent)
	}

	var memo *transport.MemoSender
	if cfg.Memoize {
		var store cache.Store
		if cfg.Redis != nil {
			store = cache.NewRedisStore(cfg.Redis)
		} else {
			store = cache.NewMemoryStore()
		}
		memo = transport.Memoize(sender, store, id, cfg.CacheTTL)
		sender = memo
	}

	scheduler := batch.New(sender, batch.Config{
		Concurrency:    cfg.ConcurrencyCap,
		Policy:         cfg.Policy,
		RequestTimeout: cfg.RequestTimeout,
	})

	logger.Debug().
		Int("concurrency_cap", cfg.ConcurrencyCap).
		Bool("memoize", cfg.Memoize).
		Str("base_url", cfg.BaseURL).
		Msg("Client created")

	return &Client{
		id:        id,
		config:    cfg,
		builder:   request.NewBuilder(cfg.BaseURL),
		scheduler: scheduler,
		memo:      memo,
		logger:    logger,
	}, nil
}

// ID returns the instance id that scopes this client's cache.
func (c *Client) ID() string { return c.id }

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Pending returns the number of queries waiting for the next RunAll.
func (c *Client) Pending() int { return c.scheduler.Pending() }

// Enqueue builds the request for symbol over [start, end] and queues it. fn is
// called with the full table body if the request succeeds, at most once, and
// may be nil. The symbol is sent as given; it only has to contain a
// non-space character. The range is not checked for start <= end. No network
// I/O happens until RunAll.
func (c *Client) Enqueue(symbol string, start, end request.Date, fn func(body []byte)) error {
	if strings.TrimSpace(symbol) == "" {
		return ErrEmptySymbol
	}
	c.scheduler.Enqueue(batch.Query{
		Descriptor: c.builder.Build(symbol, start, end),
		OnSuccess:  fn,
	})
	return nil
}

// EnqueueStrings is Enqueue with dates parsed by request.ParseDate.
func (c *Client) EnqueueStrings(symbol, start, end string, fn func(body []byte)) error {
	s, e, err := parseRange(start, end)
	if err != nil {
		return err
	}
	return c.Enqueue(symbol, s, e, fn)
}

// EnqueueResult queues a query whose body is collected into the returned
// Result instead of being passed to a callback.
func (c *Client) EnqueueResult(symbol string, start, end request.Date) (*Result, error) {
	r := &Result{Symbol: symbol, Start: start, End: end}
	if err := c.Enqueue(symbol, start, end, r.set); err != nil {
		return nil, err
	}
	return r, nil
}

// RunAll sends every query enqueued so far and blocks until all of them have
// finished. See batch.Scheduler.RunAll for failure handling.
func (c *Client) RunAll(ctx context.Context) error {
	err := c.scheduler.RunAll(ctx)
	recordErrors(err)
	return err
}

// Close releases the client's memoized responses. With Redis this deletes
// the client's keys.
func (c *Client) Close() error {
	if c.memo == nil {
		return nil
	}
	if err := c.memo.Clear(context.Background()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Result holds the body of a query enqueued with EnqueueResult. It is filled
// during RunAll and must be read after RunAll returns.
type Result struct {
	Symbol string
	Start  request.Date
	End    request.Date

	body []byte
	ok   bool
}

// Body returns the table body and whether the query succeeded.
func (r *Result) Body() ([]byte, bool) { return r.body, r.ok }

func (r *Result) set(body []byte) {
	r.body = body
	r.ok = true
}

// QuickOption adjusts the configuration used by QuickQuery.
type QuickOption func(*Config)

// WithBaseURL points QuickQuery at another endpoint.
func WithBaseURL(baseURL string) QuickOption {
	return func(c *Config) { c.BaseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used by QuickQuery.
func WithHTTPClient(client *http.Client) QuickOption {
	return func(c *Config) { c.HTTPClient = client }
}

// WithSender replaces the transport used by QuickQuery.
func WithSender(sender transport.Sender) QuickOption {
	return func(c *Config) { c.Sender = sender }
}

// WithRequestTimeout bounds the request made by QuickQuery.
func WithRequestTimeout(d time.Duration) QuickOption {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithUserAgent sets the User-Agent used by QuickQuery.
func WithUserAgent(userAgent string) QuickOption {
	return func(c *Config) { c.UserAgent = userAgent }
}

// QuickQuery fetches a single table with a throwaway client. Batching several
// queries through one Client with Enqueue and RunAll is more efficient.
func QuickQuery(ctx context.Context, symbol string, start, end request.Date, opts ...QuickOption) ([]byte, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var body []byte
	if err := c.Enqueue(symbol, start, end, func(b []byte) { body = b }); err != nil {
		return nil, err
	}
	if err := c.RunAll(ctx); err != nil {
		return nil, err
	}
	return body, nil
}

// QuickQueryStrings is QuickQuery with dates parsed by request.ParseDate.
func QuickQueryStrings(ctx context.Context, symbol, start, end string, opts ...QuickOption) ([]byte, error) {
	s, e, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	return QuickQuery(ctx, symbol, s, e, opts...)
}

func parseRange(start, end string) (request.Date, request.Date, error) {
	s, err := request.ParseDate(start)
	if err != nil {
		return request.Date{}, request.Date{}, fmt.Errorf("start date: %w", err)
	}
	e, err := request.ParseDate(end)
	if err != nil {
		return request.Date{}, request.Date{}, fmt.Errorf("end date: %w", err)
	}
	return s, e, nil
}
