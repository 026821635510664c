// Package transport issues table requests over HTTP.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/histfetch/pkg/request"
	"github.com/Sternrassler/histfetch/pkg/response"
)

// Sender issues one request and returns the completed response. Any status
// code is a completed response; only failures to obtain a response are errors.
type Sender interface {
	Send(ctx context.Context, desc request.Descriptor) (response.Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, desc request.Descriptor) (response.Response, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, desc request.Descriptor) (response.Response, error) {
	return f(ctx, desc)
}

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "histfetch/0.1"

// HTTPSender sends requests with a net/http client.
type HTTPSender struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewHTTPSender returns a sender using client, or http.DefaultClient when nil.
func NewHTTPSender(client *http.Client, userAgent string) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPSender{
		client:    client,
		userAgent: userAgent,
		logger:    log.With().Str("component", "transport").Logger(),
	}
}

// Send performs the GET described by desc and reads the full body.
func (s *HTTPSender) Send(ctx context.Context, desc request.Descriptor) (response.Response, error) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	method := desc.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, desc.URL, nil)
	if err != nil {
		return response.Response{}, &response.TransportError{URL: desc.URL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/csv")

	s.logger.Debug().
		Str("symbol", desc.Symbol).
		Str("url", desc.URL).
		Msg("Sending table request")

	resp, err := s.client.Do(req)
	if err != nil {
		transportErrorsTotal.Inc()
		requestsTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("url", desc.URL).Msg("HTTP request failed")
		return response.Response{}, &response.TransportError{URL: desc.URL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		transportErrorsTotal.Inc()
		requestsTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("url", desc.URL).Msg("Reading response body failed")
		return response.Response{}, &response.TransportError{URL: desc.URL, Err: fmt.Errorf("read body: %w", err)}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	s.logger.Debug().
		Str("symbol", desc.Symbol).
		Int("status_code", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Table request completed")

	return response.Response{StatusCode: resp.StatusCode, Body: body}, nil
}
