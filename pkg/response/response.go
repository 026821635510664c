// Package response classifies completed requests against the historical
// table endpoint into success, not-found and protocol failures.
package response

import (
	"bytes"
	"net/http"

	"github.com/Sternrassler/histfetch/pkg/request"
)

// HeaderPrefix is the column header every valid table body starts with.
const HeaderPrefix = "Date,Open,High,Low,Close,Volume,Adj Close"

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Kind identifies the outcome of a request.
type Kind int

const (
	KindSuccess Kind = iota
	KindNotFound
	KindProtocolError
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Outcome is the classification of one response. Body is set on success,
// Err otherwise.
type Outcome struct {
	Kind Kind
	Body []byte
	Err  error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == KindSuccess }

// Classify decides the outcome of resp for the request described by desc.
func Classify(resp Response, desc request.Descriptor) Outcome {
	switch resp.StatusCode {
	case http.StatusOK:
		if HasHeader(resp.Body) {
			return Outcome{Kind: KindSuccess, Body: resp.Body}
		}
		return Outcome{
			Kind: KindProtocolError,
			Err: &ProtocolError{
				StatusCode: resp.StatusCode,
				URL:        desc.URL,
				Prefix:     string(prefix(resp.Body)),
			},
		}
	case http.StatusNotFound:
		return Outcome{
			Kind: KindNotFound,
			Err:  &SymbolNotFoundError{Symbol: desc.Symbol, URL: desc.URL},
		}
	default:
		return Outcome{
			Kind: KindProtocolError,
			Err:  &ProtocolError{StatusCode: resp.StatusCode, URL: desc.URL},
		}
	}
}

// HasHeader reports whether body starts with HeaderPrefix.
func HasHeader(body []byte) bool {
	return bytes.HasPrefix(body, []byte(HeaderPrefix))
}

func prefix(body []byte) []byte {
	if len(body) > len(HeaderPrefix) {
		return body[:len(HeaderPrefix)]
	}
	return body
}
