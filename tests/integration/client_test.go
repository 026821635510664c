//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/histfetch/internal/testutil"
	"github.com/Sternrassler/histfetch/pkg/batch"
	"github.com/Sternrassler/histfetch/pkg/cache"
	"github.com/Sternrassler/histfetch/pkg/client"
	"github.com/Sternrassler/histfetch/pkg/request"
)

var (
	start = request.NewDate(2019, time.March, 1)
	end   = request.NewDate(2019, time.September, 30)
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport sends requests for the real table host to the mock server.
type testTransport struct {
	mock *testutil.MockTable
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	def, _ := url.Parse(request.DefaultBaseURL)
	if req.URL.Host == def.Host {
		mockURL, err := url.Parse(t.mock.URL())
		if err != nil {
			return nil, err
		}
		req.URL.Scheme = mockURL.Scheme
		req.URL.Host = mockURL.Host
	}
	return http.DefaultTransport.RoundTrip(req)
}

func redirectClient(mock *testutil.MockTable) *http.Client {
	return &http.Client{
		Transport: &testTransport{mock: mock},
		Timeout:   30 * time.Second,
	}
}

// TestFullBatchFlow runs a mixed batch against the default endpoint URL with
// Redis memoization and the drain policy.
func TestFullBatchFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTable()
	defer mock.Close()
	mock.SetResponse("NOSUCHSYM", testutil.NewNotFoundResponse())
	mock.SetResponse("BROKEN", testutil.NewErrorPageResponse())

	cfg := client.DefaultConfig()
	cfg.HTTPClient = redirectClient(mock)
	cfg.Memoize = true
	cfg.Redis = redisClient
	cfg.ConcurrencyCap = 3
	cfg.Policy = batch.PolicyDrain

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	results := make(map[string]*client.Result)
	for _, sym := range []string{"AAPL", "MSFT", "NOSUCHSYM", "BROKEN", "IBM"} {
		r, err := c.EnqueueResult(sym, start, end)
		if err != nil {
			t.Fatalf("EnqueueResult(%s): %v", sym, err)
		}
		results[sym] = r
	}

	err = c.RunAll(ctx)
	if err == nil {
		t.Fatal("RunAll succeeded, want combined failures")
	}
	if got := client.NotFoundSymbols(err); len(got) != 1 || got[0] != "NOSUCHSYM" {
		t.Errorf("NotFoundSymbols = %v, want [NOSUCHSYM]", got)
	}

	for _, sym := range []string{"AAPL", "MSFT", "IBM"} {
		body, ok := results[sym].Body()
		if !ok {
			t.Errorf("%s: no body", sym)
			continue
		}
		if string(body) != testutil.TableBody(sym, 3) {
			t.Errorf("%s: unexpected body %q", sym, body)
		}
	}
	if _, ok := results["BROKEN"].Body(); ok {
		t.Error("BROKEN: body delivered for an error page")
	}

	if got := mock.RequestCount(); got != 5 {
		t.Errorf("requests = %d, want 5", got)
	}

	// Only the three successes were memoized.
	keys, err := redisClient.Keys(ctx, cache.NamespacePattern(c.ID())).Result()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("cached keys = %d, want 3", len(keys))
	}

	// Second run: successes come from Redis, failures hit the endpoint again.
	mock.Reset()
	for _, sym := range []string{"AAPL", "NOSUCHSYM"} {
		if err := c.Enqueue(sym, start, end, nil); err != nil {
			t.Fatalf("Enqueue(%s): %v", sym, err)
		}
	}
	if err := c.RunAll(ctx); !client.IsNotFound(err) {
		t.Fatalf("second RunAll error = %v, want not found", err)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("second run requests = %d, want 1", got)
	}
}

// TestClientsShareRedis verifies that two clients on one Redis keep separate
// caches and that Close removes only the closing client's keys.
func TestClientsShareRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTable()
	defer mock.Close()

	newClient := func() *client.Client {
		cfg := client.DefaultConfig()
		cfg.HTTPClient = redirectClient(mock)
		cfg.Memoize = true
		cfg.Redis = redisClient
		c, err := client.New(cfg)
		if err != nil {
			t.Fatalf("Failed to create client: %v", err)
		}
		return c
	}

	ctx := context.Background()
	a, b := newClient(), newClient()
	defer b.Close()

	for _, c := range []*client.Client{a, b} {
		if err := c.Enqueue("AAPL", start, end, nil); err != nil {
			t.Fatal(err)
		}
		if err := c.RunAll(ctx); err != nil {
			t.Fatalf("RunAll: %v", err)
		}
	}
	if got := mock.RequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2 (caches are per client)", got)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	aKeys, _ := redisClient.Keys(ctx, cache.NamespacePattern(a.ID())).Result()
	bKeys, _ := redisClient.Keys(ctx, cache.NamespacePattern(b.ID())).Result()
	if len(aKeys) != 0 {
		t.Errorf("closed client keys = %v, want none", aKeys)
	}
	if len(bKeys) != 1 {
		t.Errorf("open client keys = %d, want 1", len(bKeys))
	}
}

// TestQuickQuery fetches through the one-shot helper.
func TestQuickQuery(t *testing.T) {
	mock := testutil.NewMockTable()
	defer mock.Close()

	body, err := client.QuickQueryStrings(context.Background(), "AAPL", "2019-03-01", "2019-09-30",
		client.WithHTTPClient(redirectClient(mock)))
	if err != nil {
		t.Fatalf("QuickQuery: %v", err)
	}
	if string(body) != testutil.TableBody("AAPL", 3) {
		t.Errorf("unexpected body %q", body)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	want := "s=AAPL&g=d&a=2&b=1&c=2019&d=8&e=30&f=2019"
	if reqs[0] != want {
		t.Errorf("query = %q, want %q", reqs[0], want)
	}
}
