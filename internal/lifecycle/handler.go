package lifecycle

import (
	"context"
	"errors"
	"net/http"
)

// DefaultErrorMessage is sent when a handler fails without a message
const DefaultErrorMessage = "Unknown error"

var (
	// ErrUnknown rejects a Deferred that was rejected with a nil error
	ErrUnknown = errors.New(DefaultErrorMessage)
	// ErrInvalidTransition is returned when an operation is not valid in the current state
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Request is the inbound side of one handling cycle
type Request struct {
	// ID is the owning Context's ID
	ID   string
	Kind Kind
	// Params are the decoded route parameters
	Params map[string]string
	// Payload is the inbound message: decoded JSON or raw text for socket kinds,
	// nil for HTTP (bodies are left to the handler)
	Payload any
	// Event is the inbound event name for socket-event requests
	Event string
	// HTTP is the originating request (the upgrade request for socket kinds)
	HTTP *http.Request
	// Claims are set by handshake middleware and carried to every request of the connection
	Claims map[string]any
}

// Handler computes the response for a request.
// ctx is cancelled when the transport disconnects.
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// StatusCoder is implemented by errors that carry an HTTP status
type StatusCoder interface {
	StatusCode() int
}

// HandlerError is a handler failure with a client-visible status and message
type HandlerError struct {
	Status  int
	Message string
	Cause   error
}

// Fail creates a HandlerError
func Fail(status int, message string) *HandlerError {
	return &HandlerError{Status: status, Message: message}
}

func (e *HandlerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ""
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// StatusCode implements StatusCoder
func (e *HandlerError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// ErrorFrame is the client-visible shape of a failure
type ErrorFrame struct {
	IsError bool   `json:"isError"`
	Message string `json:"message"`
}

// NewErrorFrame converts err to an ErrorFrame, defaulting the message
func NewErrorFrame(err error) ErrorFrame {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = DefaultErrorMessage
	}
	return ErrorFrame{IsError: true, Message: msg}
}

// StatusOf returns the HTTP status for err, 500 unless err carries one
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}
