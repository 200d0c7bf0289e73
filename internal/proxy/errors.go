package proxy

import "net/http"

// Error is a terminal, non-retried gateway error. The kind fixes the HTTP
// status so automated clients can branch on status without parsing the
// message; the message travels in the {"error": ...} payload.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// The gateway error taxonomy. Every failure surfaced by the proxy core is
// one of these; none is retried automatically.
var (
	ErrHostNotFound = &Error{Status: http.StatusNotFound, Message: "Host not found"}
	ErrHostDisabled = &Error{Status: http.StatusForbidden, Message: "Host is disabled"}
)

// Unreachable wraps a transport-level upstream failure (connection refused,
// timeout, malformed response) as a 502.
func Unreachable(err error) *Error {
	return &Error{Status: http.StatusBadGateway, Message: err.Error()}
}
