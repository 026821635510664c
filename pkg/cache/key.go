package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// keyPrefix is the root of every key this package writes.
const keyPrefix = "histfetch"

// Key identifies a cached response.
type Key struct {
	// Namespace scopes the key to one client instance
	Namespace string

	// URL is the fully built request URL
	URL string
}

// NewKey returns the key for rawURL in namespace.
func NewKey(namespace, rawURL string) Key {
	return Key{Namespace: namespace, URL: rawURL}
}

// String generates a deterministic cache key string.
// Format: histfetch:namespace:host/path:param1=val1:param2=val2
//
// Example:
//
//	histfetch:3f1c:itable.finance.yahoo.com/table.csv:a=0:b=1:c=2020:d=11:e=31:f=2020:g=d:s=AAPL
func (k Key) String() string {
	parts := []string{keyPrefix}
	if k.Namespace != "" {
		parts = append(parts, k.Namespace)
	}

	u, err := url.Parse(k.URL)
	if err != nil {
		return strings.Join(append(parts, k.URL), ":")
	}

	if target := strings.Trim(u.Host+u.Path, "/"); target != "" {
		parts = append(parts, target)
	}

	// Query params sorted so parameter order never splits the cache
	query := u.Query()
	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(query[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// NamespacePattern returns the Redis glob matching every key in namespace.
func NamespacePattern(namespace string) string {
	return keyPrefix + ":" + namespace + ":*"
}
