package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Sternrassler/histfetch/pkg/request"
	"github.com/Sternrassler/histfetch/pkg/response"
)

const tableBody = response.HeaderPrefix + "\n2020-01-02,1,2,0.5,1.5,100,1.5\n"

// stubSender answers by symbol and records concurrency.
type stubSender struct {
	mu        sync.Mutex
	responses map[string]response.Response
	errs      map[string]error
	block     map[string]chan struct{}
	started   chan string
	sched     *Scheduler

	order       []string
	current     int
	maxCurrent  int
	maxObserved int
	cancelled   []string
}

func newStub() *stubSender {
	return &stubSender{
		responses: make(map[string]response.Response),
		errs:      make(map[string]error),
		block:     make(map[string]chan struct{}),
	}
}

func (s *stubSender) Send(ctx context.Context, desc request.Descriptor) (response.Response, error) {
	sym := desc.Symbol

	s.mu.Lock()
	s.order = append(s.order, sym)
	s.current++
	if s.current > s.maxCurrent {
		s.maxCurrent = s.current
	}
	if s.sched != nil && s.sched.InFlight() > s.maxObserved {
		s.maxObserved = s.sched.InFlight()
	}
	ch := s.block[sym]
	resp, hasResp := s.responses[sym]
	err := s.errs[sym]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current--
		s.mu.Unlock()
	}()

	if s.started != nil {
		s.started <- sym
	}
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			s.mu.Lock()
			s.cancelled = append(s.cancelled, sym)
			s.mu.Unlock()
			return response.Response{}, &response.TransportError{URL: desc.URL, Err: ctx.Err()}
		}
	}
	if err != nil {
		return response.Response{}, err
	}
	if !hasResp {
		resp = response.Response{StatusCode: 200, Body: []byte(tableBody + sym)}
	}
	return resp, nil
}

func (s *stubSender) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

var builder = request.NewBuilder("")

func query(symbol string, onSuccess func([]byte)) Query {
	return Query{
		Descriptor: builder.Build(symbol, request.NewDate(2020, time.January, 1), request.NewDate(2020, time.December, 31)),
		OnSuccess:  onSuccess,
	}
}

func TestRunAll_EmptyQueue(t *testing.T) {
	stub := newStub()
	s := New(stub, DefaultConfig())

	require.NoError(t, s.RunAll(context.Background()))
	assert.Empty(t, stub.calls())
}

func TestRunAll_SuccessInvokesCallbackOnce(t *testing.T) {
	stub := newStub()
	stub.responses["AAPL"] = response.Response{StatusCode: 200, Body: []byte(tableBody)}
	s := New(stub, DefaultConfig())

	var calls int
	var got []byte
	s.Enqueue(query("AAPL", func(body []byte) {
		calls++
		got = body
	}))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.RunAll(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, tableBody, string(got))
	assert.Equal(t, 0, s.Pending())
}

func TestRunAll_NotFound(t *testing.T) {
	stub := newStub()
	stub.responses["NOSUCHSYM"] = response.Response{StatusCode: 404}
	s := New(stub, DefaultConfig())

	called := false
	s.Enqueue(query("NOSUCHSYM", func([]byte) { called = true }))

	err := s.RunAll(context.Background())
	var nf *response.SymbolNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "NOSUCHSYM", nf.Symbol)
	assert.False(t, called, "callback must not run on failure")
}

func TestRunAll_HTMLBodyIsProtocolError(t *testing.T) {
	stub := newStub()
	stub.responses["AAPL"] = response.Response{StatusCode: 200, Body: []byte("<html>error</html>")}
	s := New(stub, DefaultConfig())

	called := false
	s.Enqueue(query("AAPL", func([]byte) { called = true }))

	err := s.RunAll(context.Background())
	var pe *response.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "<html>error</html>", pe.Prefix)
	assert.False(t, called)
}

func TestRunAll_ServerError(t *testing.T) {
	stub := newStub()
	stub.responses["AAPL"] = response.Response{StatusCode: 500}
	s := New(stub, DefaultConfig())

	q := query("AAPL", nil)
	s.Enqueue(q)

	err := s.RunAll(context.Background())
	require.ErrorIs(t, err, response.ErrProtocol)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), q.Descriptor.URL)
}

func TestRunAll_TransportErrorIsWrapped(t *testing.T) {
	stub := newStub()
	stub.errs["AAPL"] = errors.New("connection reset by peer")
	s := New(stub, DefaultConfig())
	s.Enqueue(query("AAPL", nil))

	err := s.RunAll(context.Background())
	require.ErrorIs(t, err, response.ErrTransport)
	assert.Equal(t, response.ErrorClassTransport, response.ClassOf(err))
}

func TestRunAll_ConcurrencyCap(t *testing.T) {
	symbols := []string{"S0", "S1", "S2", "S3", "S4"}

	stub := newStub()
	stub.started = make(chan string, len(symbols))
	for _, sym := range symbols {
		stub.block[sym] = make(chan struct{})
	}
	s := New(stub, Config{Concurrency: 2})
	stub.sched = s

	var fired atomic.Int64
	for _, sym := range symbols {
		s.Enqueue(query(sym, func([]byte) { fired.Add(1) }))
	}

	done := make(chan error, 1)
	go func() { done <- s.RunAll(context.Background()) }()

	// Complete requests newest-first so completion order differs from
	// admission order.
	var outstanding []string
	started, released := 0, 0
	for released < len(symbols) {
		select {
		case sym := <-stub.started:
			outstanding = append(outstanding, sym)
			started++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out: started=%d released=%d", started, released)
		}
		for len(outstanding) == 2 || (started == len(symbols) && len(outstanding) > 0) {
			last := outstanding[len(outstanding)-1]
			outstanding = outstanding[:len(outstanding)-1]
			close(stub.block[last])
			released++
		}
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return")
	}

	assert.Equal(t, int64(len(symbols)), fired.Load(), "every callback fires before RunAll returns")
	assert.LessOrEqual(t, stub.maxCurrent, 2)
	assert.LessOrEqual(t, stub.maxObserved, 2)
	assert.Equal(t, 0, s.InFlight())
}

func TestRunAll_FIFOAdmission(t *testing.T) {
	stub := newStub()
	s := New(stub, Config{Concurrency: 1})

	want := []string{"A", "B", "C", "D", "E", "F"}
	for _, sym := range want {
		s.Enqueue(query(sym, nil))
	}

	require.NoError(t, s.RunAll(context.Background()))
	assert.Equal(t, want, stub.calls())
}

func TestRunAll_FailFastAbandonsPending(t *testing.T) {
	stub := newStub()
	stub.responses["BAD"] = response.Response{StatusCode: 404}
	s := New(stub, Config{Concurrency: 1, Policy: PolicyFailFast})

	var fired atomic.Int64
	for _, sym := range []string{"OK1", "BAD", "OK2", "OK3"} {
		s.Enqueue(query(sym, func([]byte) { fired.Add(1) }))
	}

	err := s.RunAll(context.Background())
	require.ErrorIs(t, err, response.ErrSymbolNotFound)
	assert.Equal(t, []string{"OK1", "BAD"}, stub.calls())
	assert.Equal(t, int64(1), fired.Load())
	assert.Equal(t, 0, s.Pending(), "abandoned queries are not requeued")
}

func TestRunAll_FailFastCancelsInFlight(t *testing.T) {
	stub := newStub()
	stub.started = make(chan string, 2)
	stub.block["SLOW"] = make(chan struct{})
	stub.responses["FAIL"] = response.Response{StatusCode: 404}
	s := New(stub, Config{Concurrency: 2})

	s.Enqueue(query("SLOW", nil))
	// FAIL must not answer before SLOW is in flight.
	stub.block["FAIL"] = make(chan struct{})
	s.Enqueue(query("FAIL", nil))

	done := make(chan error, 1)
	go func() { done <- s.RunAll(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-stub.started:
		case <-time.After(2 * time.Second):
			t.Fatal("requests did not start")
		}
	}
	close(stub.block["FAIL"])

	select {
	case err := <-done:
		require.ErrorIs(t, err, response.ErrSymbolNotFound)
		assert.NotErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return after failure")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{"SLOW"}, stub.cancelled)
}

func TestRunAll_DrainReportsAllFailures(t *testing.T) {
	stub := newStub()
	stub.responses["MISSING"] = response.Response{StatusCode: 404}
	stub.responses["BROKEN"] = response.Response{StatusCode: 500}
	s := New(stub, Config{Concurrency: 2, Policy: PolicyDrain})

	var fired atomic.Int64
	for _, sym := range []string{"OK1", "MISSING", "BROKEN", "OK2"} {
		s.Enqueue(query(sym, func([]byte) { fired.Add(1) }))
	}

	err := s.RunAll(context.Background())
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], response.ErrSymbolNotFound)
	assert.ErrorIs(t, errs[1], response.ErrProtocol)
	assert.Equal(t, int64(2), fired.Load())
	assert.Len(t, stub.calls(), 4)
}

func TestRunAll_ContextCancelledBeforeRun(t *testing.T) {
	stub := newStub()
	s := New(stub, DefaultConfig())
	s.Enqueue(query("AAPL", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stub.calls())
}

func TestRunAll_RequestTimeout(t *testing.T) {
	stub := newStub()
	stub.block["HUNG"] = make(chan struct{})
	defer close(stub.block["HUNG"])
	s := New(stub, Config{Concurrency: 1, RequestTimeout: 20 * time.Millisecond})
	s.Enqueue(query("HUNG", nil))

	err := s.RunAll(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, response.ErrTransport)
}

func TestRunAll_ReentrantCallRejected(t *testing.T) {
	stub := newStub()
	s := New(stub, DefaultConfig())

	var inner error
	s.Enqueue(query("AAPL", func([]byte) {
		inner = s.RunAll(context.Background())
	}))

	require.NoError(t, s.RunAll(context.Background()))
	assert.ErrorIs(t, inner, ErrRunning)
}

func TestRunAll_EnqueueDuringRunWaitsForNextRun(t *testing.T) {
	stub := newStub()
	s := New(stub, DefaultConfig())

	s.Enqueue(query("FIRST", func([]byte) {
		s.Enqueue(query("SECOND", nil))
	}))

	require.NoError(t, s.RunAll(context.Background()))
	assert.Equal(t, []string{"FIRST"}, stub.calls())
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.RunAll(context.Background()))
	assert.Equal(t, []string{"FIRST", "SECOND"}, stub.calls())
}

func TestRunAll_Reuse(t *testing.T) {
	stub := newStub()
	stub.responses["BAD"] = response.Response{StatusCode: 404}
	s := New(stub, DefaultConfig())

	s.Enqueue(query("BAD", nil))
	require.Error(t, s.RunAll(context.Background()))

	var got string
	s.Enqueue(query("GOOD", func(b []byte) { got = string(b) }))
	require.NoError(t, s.RunAll(context.Background()))
	assert.True(t, strings.HasSuffix(got, "GOOD"))
}

func TestNew_DefaultsConcurrency(t *testing.T) {
	s := New(newStub(), Config{})
	assert.Equal(t, 20, s.Config().Concurrency)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{input: "", want: PolicyFailFast},
		{input: "fail-fast", want: PolicyFailFast},
		{input: "FailFast", want: PolicyFailFast},
		{input: "drain", want: PolicyDrain},
		{input: " Drain ", want: PolicyDrain},
		{input: "retry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) Policy {
	t.Helper()
	p, err := ParsePolicy(s)
	require.NoError(t, err)
	return p
}
