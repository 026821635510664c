package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/histfetch/pkg/request"
	"github.com/Sternrassler/histfetch/pkg/response"
	"github.com/Sternrassler/histfetch/pkg/transport"
)

// ErrRunning is returned by RunAll while another run of the same scheduler is
// active, including calls made from an OnSuccess handler.
var ErrRunning = errors.New("batch run already in progress")

// Policy selects what a run does after a request fails.
type Policy int

const (
	// PolicyFailFast abandons the rest of the run at the first failure.
	PolicyFailFast Policy = iota
	// PolicyDrain runs every request and reports all failures.
	PolicyDrain
)

// String returns the config name of p.
func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	case PolicyDrain:
		return "drain"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "fail-fast" or "drain". The empty string is fail-fast.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast", "failfast":
		return PolicyFailFast, nil
	case "drain":
		return PolicyDrain, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Config holds scheduler configuration.
type Config struct {
	// Concurrency is the maximum number of requests in flight
	Concurrency int
	// Policy decides what happens to the run after a failure
	Policy Policy
	// RequestTimeout bounds each request. Zero means no timeout: a hung
	// request holds its slot until the run's context ends.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 20,
		Policy:      PolicyFailFast,
	}
}

// Query is a built request plus the handler to call with its body on success.
type Query struct {
	Descriptor request.Descriptor
	OnSuccess  func(body []byte)
}

// Scheduler queues queries and runs them with bounded concurrency.
type Scheduler struct {
	sender transport.Sender
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	pending []Query

	inFlight atomic.Int64
	running  atomic.Bool
}

// runStats is per-run bookkeeping shared by the request goroutines.
type runStats struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
}

// New creates a scheduler that sends through sender.
func New(sender transport.Sender, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Scheduler{
		sender: sender,
		config: cfg,
		logger: log.With().Str("component", "batch").Logger(),
	}
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config { return s.config }

// Enqueue appends q to the queue. It never blocks on network I/O.
func (s *Scheduler) Enqueue(q Query) {
	s.mu.Lock()
	s.pending = append(s.pending, q)
	s.mu.Unlock()
	pendingGauge.Inc()
}

// Pending returns the number of queued queries not yet taken by a run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// InFlight returns the number of requests currently in flight.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// RunAll runs every query queued so far and returns once all admitted
// requests have finished. Queries enqueued during the run wait for the next
// one. An empty queue returns nil immediately.
func (s *Scheduler) RunAll(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()
	pendingGauge.Sub(float64(len(queue)))

	if len(queue) == 0 {
		return nil
	}

	logger := s.logger.With().Str("batch_id", uuid.NewString()).Logger()
	start := time.Now()

	logger.Info().
		Int("queries", len(queue)).
		Int("concurrency", s.config.Concurrency).
		Str("policy", s.config.Policy.String()).
		Msg("Starting batch run")

	stats := &runStats{}
	var err error
	switch s.config.Policy {
	case PolicyDrain:
		err = s.drain(ctx, queue, stats, logger)
	default:
		err = s.failFast(ctx, queue, stats, logger)
	}

	runDuration.Observe(time.Since(start).Seconds())
	abandonedTotal.Add(float64(stats.abandoned.Load()))

	event := logger.Info()
	result := "success"
	switch {
	case err != nil && ctx.Err() != nil:
		result = "cancelled"
		event = logger.Warn().Err(err)
	case err != nil:
		result = "failed"
		event = logger.Error().Err(err)
	}
	runsTotal.WithLabelValues(result).Inc()

	event.
		Int64("succeeded", stats.succeeded.Load()).
		Int64("failed", stats.failed.Load()).
		Int64("abandoned", stats.abandoned.Load()).
		Dur("duration", time.Since(start)).
		Msg("Batch run complete")

	return err
}

// failFast admits queries until the first failure cancels the run context.
func (s *Scheduler) failFast(ctx context.Context, queue []Query, stats *runStats, logger zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	admitted := 0
	for _, q := range queue {
		if gctx.Err() != nil {
			break
		}
		// Go blocks while the limit is reached, which keeps admission FIFO.
		g.Go(func() error {
			return s.execute(gctx, q, stats, logger)
		})
		admitted++
	}
	stats.abandoned.Add(int64(len(queue) - admitted))

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// drain runs every query and combines failures in enqueue order.
func (s *Scheduler) drain(ctx context.Context, queue []Query, stats *runStats, logger zerolog.Logger) error {
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	errs := make([]error, len(queue))
	admitted := 0
	for i, q := range queue {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			errs[i] = s.execute(ctx, q, stats, logger)
			return nil
		})
		admitted++
	}
	stats.abandoned.Add(int64(len(queue) - admitted))

	_ = g.Wait()
	return multierr.Append(multierr.Combine(errs...), ctx.Err())
}

// execute sends one query, classifies the completion and dispatches the
// success handler.
func (s *Scheduler) execute(ctx context.Context, q Query, stats *runStats, logger zerolog.Logger) error {
	// The run may have failed while this goroutine waited for its slot.
	if ctx.Err() != nil {
		stats.abandoned.Add(1)
		return nil
	}

	s.inFlight.Add(1)
	inFlightGauge.Inc()
	defer func() {
		s.inFlight.Add(-1)
		inFlightGauge.Dec()
	}()

	reqCtx := ctx
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	desc := q.Descriptor
	resp, err := s.sender.Send(reqCtx, desc)
	if err != nil {
		var te *response.TransportError
		if !errors.As(err, &te) {
			err = &response.TransportError{URL: desc.URL, Err: err}
		}
		if ctx.Err() != nil {
			// Cancelled along with the run; the run's own error is reported.
			stats.abandoned.Add(1)
			outcomesTotal.WithLabelValues("cancelled").Inc()
			return err
		}
		stats.failed.Add(1)
		outcomesTotal.WithLabelValues("transport_error").Inc()
		logger.Warn().Err(err).Str("symbol", desc.Symbol).Msg("Table request failed")
		return err
	}

	out := response.Classify(resp, desc)
	outcomesTotal.WithLabelValues(out.Kind.String()).Inc()
	if !out.OK() {
		stats.failed.Add(1)
		logger.Warn().
			Err(out.Err).
			Str("symbol", desc.Symbol).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(response.ClassOf(out.Err))).
			Msg("Table request rejected")
		return out.Err
	}

	stats.succeeded.Add(1)
	logger.Debug().
		Str("symbol", desc.Symbol).
		Str("start", desc.Start.String()).
		Str("end", desc.End.String()).
		Int("bytes", len(out.Body)).
		Msg("Table request succeeded")

	if q.OnSuccess != nil {
		q.OnSuccess(out.Body)
	}
	return nil
}
