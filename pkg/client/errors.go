package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"

	"github.com/Sternrassler/histfetch/pkg/response"
)

// Common errors returned by the client.
var (
	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("invalid client config")

	// ErrEmptySymbol is returned when a query has no symbol.
	ErrEmptySymbol = errors.New("symbol cannot be empty")
)

var errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "histfetch_errors_total",
	Help: "Total failed table requests reported by RunAll, by error class",
}, []string{"class"})

// recordErrors counts every failure contained in err by class.
func recordErrors(err error) {
	for _, e := range multierr.Errors(err) {
		class := response.ClassOf(e)
		if class == "" {
			continue
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
	}
}

// IsNotFound reports whether err contains a SymbolNotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, response.ErrSymbolNotFound)
}

// NotFoundSymbols returns the symbols of every SymbolNotFoundError in err, in
// the order they were reported.
func NotFoundSymbols(err error) []string {
	var symbols []string
	for _, e := range multierr.Errors(err) {
		var nf *response.SymbolNotFoundError
		if errors.As(e, &nf) {
			symbols = append(symbols, nf.Symbol)
		}
	}
	return symbols
}
