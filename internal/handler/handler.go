// Package handler holds the named handlers routes can refer to in configuration.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// Built-in handler names
const (
	Echo   = "echo"
	Params = "params"
	Status = "status"
	Fail   = "fail"
)

// maxEchoBody caps how much of an HTTP body echo reads
const maxEchoBody = 1 << 20

// ErrUnknownHandler is returned by Get for names that were never registered
var ErrUnknownHandler = errors.New("unknown handler")

// Registry maps handler names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]lifecycle.Handler
}

// NewRegistry creates a registry holding the built-in handlers
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]lifecycle.Handler)}
	r.handlers[Echo] = lifecycle.HandlerFunc(echo)
	r.handlers[Params] = lifecycle.HandlerFunc(params)
	r.handlers[Status] = lifecycle.HandlerFunc(status)
	r.handlers[Fail] = lifecycle.HandlerFunc(fail)
	return r
}

// Register adds a handler. Names are unique.
func (r *Registry) Register(name string, h lifecycle.Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("handler name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get returns the handler registered under name
func (r *Registry) Get(name string) (lifecycle.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// echo returns the inbound payload. For HTTP the request body is echoed, decoded
// as JSON when it parses.
func echo(_ context.Context, req *lifecycle.Request) (any, error) {
	if req.Kind != lifecycle.KindHTTP || req.HTTP == nil || req.HTTP.Body == nil {
		return req.Payload, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.HTTP.Body, maxEchoBody))
	if err != nil {
		return nil, lifecycle.Fail(http.StatusBadRequest, "failed to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v, nil
	}
	return string(body), nil
}

// params returns the decoded route parameters
func params(_ context.Context, req *lifecycle.Request) (any, error) {
	if req.Params == nil {
		return map[string]string{}, nil
	}
	return req.Params, nil
}

// status reports on the request being handled
func status(_ context.Context, req *lifecycle.Request) (any, error) {
	out := map[string]any{
		"status": "ok",
		"id":     req.ID,
		"kind":   req.Kind,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if req.Event != "" {
		out["event"] = req.Event
	}
	return out, nil
}

// fail always fails. The "status" and "message" route parameters (or query
// parameters for HTTP) pick the error status and message.
func fail(_ context.Context, req *lifecycle.Request) (any, error) {
	code, message := req.Params["status"], req.Params["message"]
	if req.HTTP != nil {
		q := req.HTTP.URL.Query()
		if code == "" {
			code = q.Get("status")
		}
		if message == "" {
			message = q.Get("message")
		}
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		n = http.StatusInternalServerError
	}
	return nil, lifecycle.Fail(n, message)
}
