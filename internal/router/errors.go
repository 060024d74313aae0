package router

import (
	"fmt"
	"net/http"
)

// DecodeError reports a captured path segment with a malformed percent-escape.
// It fails the whole match.
type DecodeError struct {
	Segment string
	Cause   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode param %q", e.Segment)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// StatusCode is the HTTP status a DecodeError maps to
func (e *DecodeError) StatusCode() int {
	return http.StatusBadRequest
}

// PatternError reports a route pattern that cannot be compiled
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid route pattern %q: %s", e.Pattern, e.Reason)
}
