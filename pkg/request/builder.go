package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the historical table endpoint.
const DefaultBaseURL = "http://itable.finance.yahoo.com/table.csv"

// Descriptor is a fully built request for one query. It is immutable once built.
type Descriptor struct {
	URL    string
	Method string
	Symbol string
	Start  Date
	End    Date
}

// Builder constructs descriptors against a fixed base URL.
type Builder struct {
	baseURL string
}

// NewBuilder returns a Builder targeting baseURL, or DefaultBaseURL when empty.
func NewBuilder(baseURL string) *Builder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Builder{baseURL: baseURL}
}

// BaseURL returns the endpoint the builder targets.
func (b *Builder) BaseURL() string { return b.baseURL }

// Build returns the descriptor for symbol over [start, end].
//
// The endpoint takes zero-based months: a/d are month-1, b/e the day of month
// and c/f the four-digit year. Parameter order is part of the wire format.
func (b *Builder) Build(symbol string, start, end Date) Descriptor {
	var sb strings.Builder
	sb.Grow(len(b.baseURL) + len(symbol) + 48)
	sb.WriteString(b.baseURL)
	if strings.Contains(b.baseURL, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	sb.WriteString("s=")
	sb.WriteString(url.QueryEscape(symbol))
	sb.WriteString("&g=d")
	writeParam(&sb, "a", int(start.Month)-1)
	writeParam(&sb, "b", start.Day)
	writeYear(&sb, "c", start.Year)
	writeParam(&sb, "d", int(end.Month)-1)
	writeParam(&sb, "e", end.Day)
	writeYear(&sb, "f", end.Year)

	return Descriptor{
		URL:    sb.String(),
		Method: http.MethodGet,
		Symbol: symbol,
		Start:  start,
		End:    end,
	}
}

func writeParam(sb *strings.Builder, name string, v int) {
	sb.WriteByte('&')
	sb.WriteString(name)
	sb.WriteByte('=')
	sb.WriteString(strconv.Itoa(v))
}

func writeYear(sb *strings.Builder, name string, year int) {
	sb.WriteByte('&')
	sb.WriteString(name)
	sb.WriteByte('=')
	y := strconv.Itoa(year)
	for i := len(y); i < 4; i++ {
		sb.WriteByte('0')
	}
	sb.WriteString(y)
}
