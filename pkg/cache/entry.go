package cache

import (
	"time"
)

// Entry represents a cached table response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Expires is when the entry becomes stale. The zero value never expires.
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry returns an entry for body that expires after ttl, or never when
// ttl is zero.
func NewEntry(statusCode int, body []byte, ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{
		Data:       body,
		StatusCode: statusCode,
		CachedAt:   now,
	}
	if ttl > 0 {
		e.Expires = now.Add(ttl)
	}
	return e
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	if e.Expires.IsZero() {
		return false
	}
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired or if the entry never expires.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
