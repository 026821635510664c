// Package testutil provides testing utilities for the histfetch client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// TableHeader is the column header of a valid table body.
const TableHeader = "Date,Open,High,Low,Close,Volume,Adj Close"

// MockTableResponse defines the behavior for a mock table response.
type MockTableResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
	// Release, when set, blocks the handler until it is closed.
	Release <-chan struct{}
}

// MockTable is a configurable mock of the historical table endpoint. Responses
// are selected by the "s" (symbol) query parameter.
type MockTable struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockTableResponse

	// Tracking
	requestCount int
	inFlight     int
	maxInFlight  int
	requests     []string
}

// NewMockTable creates and starts a new mock endpoint.
func NewMockTable() *MockTable {
	mock := &MockTable{
		responses: make(map[string]MockTableResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("s")

		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.maxInFlight {
			mock.maxInFlight = mock.inFlight
		}
		mock.requests = append(mock.requests, r.URL.RawQuery)
		resp, exists := mock.responses[symbol]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if !exists {
			resp = NewTableResponse(symbol, 3)
		}
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		if resp.Release != nil {
			select {
			case <-resp.Release:
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the table endpoint URL of the mock server.
func (m *MockTable) URL() string {
	return m.server.URL + "/table.csv"
}

// Client returns an HTTP client for the mock server.
func (m *MockTable) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockTable) Close() {
	m.server.Close()
}

// SetResponse configures the response for symbol.
func (m *MockTable) SetResponse(symbol string, resp MockTableResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[symbol] = resp
}

// Reset clears all tracking counters.
func (m *MockTable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.maxInFlight = 0
	m.requests = nil
}

// RequestCount returns the number of requests made to the server.
func (m *MockTable) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockTable) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

// Requests returns the raw query strings received, in arrival order.
func (m *MockTable) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// TableBody returns a valid table body with rows data lines for symbol.
func TableBody(symbol string, rows int) string {
	var sb strings.Builder
	sb.WriteString(TableHeader)
	sb.WriteByte('\n')
	day := time.Date(2020, time.January, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		price := 100.0 + float64(len(symbol)) + float64(i)
		fmt.Fprintf(&sb, "%s,%.2f,%.2f,%.2f,%.2f,%d,%.2f\n",
			day.AddDate(0, 0, i).Format("2006-01-02"),
			price, price+1, price-1, price+0.5, 1000000+i, price+0.5)
	}
	return sb.String()
}

// NewTableResponse creates a 200 response with a valid table body.
func NewTableResponse(symbol string, rows int) MockTableResponse {
	return MockTableResponse{
		StatusCode: http.StatusOK,
		Body:       TableBody(symbol, rows),
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockTableResponse {
	return MockTableResponse{
		StatusCode: http.StatusNotFound,
		Body:       "<html><body>Sorry, the page you requested was not found.</body></html>",
	}
}

// NewErrorPageResponse creates a 200 response carrying an HTML error page.
func NewErrorPageResponse() MockTableResponse {
	return MockTableResponse{
		StatusCode: http.StatusOK,
		Body:       "<html>error</html>",
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockTableResponse {
	return MockTableResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal server error",
	}
}
