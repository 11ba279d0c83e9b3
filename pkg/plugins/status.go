package plugins

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is the failure variant a middleware returns to end a request
// with a specific HTTP status. Any other error becomes a 500.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// NewStatusError creates a status-bearing error
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// Errorf creates a status-bearing error with a formatted message
func Errorf(code int, format string, args ...interface{}) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsStatusError extracts a StatusError from err's chain
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
