package response

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of a failed request.
type ErrorClass string

const (
	// ErrorClassNotFound represents a 404 for the requested symbol.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassProtocol represents any other status, or a body that does not
	// start with the expected column header.
	ErrorClassProtocol ErrorClass = "protocol"

	// ErrorClassTransport represents requests that never produced a response.
	ErrorClassTransport ErrorClass = "transport"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrProtocol       = errors.New("protocol error")
	ErrTransport      = errors.New("transport error")
)

// SymbolNotFoundError is returned when the endpoint answers 404 for a symbol.
type SymbolNotFoundError struct {
	Symbol string
	URL    string
}

// Error implements the error interface.
func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not found (status 404): %s", e.Symbol, e.URL)
}

// Is reports whether target is ErrSymbolNotFound.
func (e *SymbolNotFoundError) Is(target error) bool { return target == ErrSymbolNotFound }

// Class returns ErrorClassNotFound.
func (e *SymbolNotFoundError) Class() ErrorClass { return ErrorClassNotFound }

// ProtocolError is returned for unexpected statuses and for 200 responses whose
// body does not start with HeaderPrefix. Prefix is set only in the latter case.
type ProtocolError struct {
	StatusCode int
	URL        string
	Prefix     string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Prefix != "" || e.StatusCode == 200 {
		return fmt.Sprintf("unexpected response body (status %d) from %s: got prefix %q",
			e.StatusCode, e.URL, e.Prefix)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Class returns ErrorClassProtocol.
func (e *ProtocolError) Class() ErrorClass { return ErrorClassProtocol }

// TransportError wraps a failure to obtain any response at all.
type TransportError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Class returns ErrorClassTransport.
func (e *TransportError) Class() ErrorClass { return ErrorClassTransport }

// ClassOf returns the class of err, or "" if err is not one of ours.
func ClassOf(err error) ErrorClass {
	var c interface{ Class() ErrorClass }
	if errors.As(err, &c) {
		return c.Class()
	}
	return ""
}
