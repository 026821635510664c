package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/histfetch/pkg/cache"
	"github.com/Sternrassler/histfetch/pkg/request"
	"github.com/Sternrassler/histfetch/pkg/response"
)

// MemoSender serves repeated requests for the same URL from a cache.
// Identical requests in flight at the same time share one upstream call.
// Only 200 responses are stored. Every caller gets its own copy of the body.
type MemoSender struct {
	next      Sender
	store     cache.Store
	namespace string
	ttl       time.Duration
	group     singleflight.Group
	logger    zerolog.Logger
}

// Memoize wraps next with a cache in namespace. A zero ttl keeps entries until
// the namespace is cleared.
func Memoize(next Sender, store cache.Store, namespace string, ttl time.Duration) *MemoSender {
	return &MemoSender{
		next:      next,
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		logger:    log.With().Str("component", "cache").Str("layer", store.Layer()).Logger(),
	}
}

// Send returns the cached response for desc.URL or fetches it.
func (m *MemoSender) Send(ctx context.Context, desc request.Descriptor) (response.Response, error) {
	key := cache.NewKey(m.namespace, desc.URL)

	if resp, ok := m.lookup(ctx, key); ok {
		return resp, nil
	}

	v, err, shared := m.group.Do(key.String(), func() (any, error) {
		// A call that finished since the first lookup may have filled the cache.
		if resp, ok := m.lookup(ctx, key); ok {
			return resp, nil
		}

		resp, err := m.next.Send(ctx, desc)
		if err != nil {
			return response.Response{}, err
		}
		if resp.StatusCode == http.StatusOK {
			entry := cache.NewEntry(resp.StatusCode, bytes.Clone(resp.Body), m.ttl)
			if err := m.store.Set(ctx, key, entry); err != nil {
				m.logger.Warn().Err(err).Str("url", desc.URL).Msg("Failed to cache response")
			}
		}
		return resp, nil
	})
	if shared {
		singleflightShared.Inc()
	}
	if err != nil {
		return response.Response{}, err
	}
	resp := v.(response.Response)
	if shared {
		resp.Body = bytes.Clone(resp.Body)
	}
	return resp, nil
}

// Clear drops every entry this sender stored.
func (m *MemoSender) Clear(ctx context.Context) error {
	return m.store.Clear(ctx, m.namespace)
}

func (m *MemoSender) lookup(ctx context.Context, key cache.Key) (response.Response, bool) {
	entry, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return response.Response{}, false
	}
	m.logger.Debug().Str("key", key.String()).Msg("Cache hit")
	return response.Response{StatusCode: entry.StatusCode, Body: bytes.Clone(entry.Data)}, true
}
