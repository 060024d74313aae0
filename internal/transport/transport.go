// Package transport adapts HTTP, WebSocket and socket-event connections to the
// request lifecycle.
//
// Each adapter creates lifecycle contexts, binds them to the connection and lets the
// context drive delivery:
//   - HTTP: one context per request; the result is written as the response
//   - WebSocket: one bound connection, one context per inbound message, handled serially
//   - Socket-event: one context per connection; the first event frame is the request and
//     the reply is emitted as an event frame before the connection is closed
//
// Both socket adapters gate the upgrade on the configured handshake middleware chain.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// Options are shared by all adapters
type Options struct {
	Logger *zap.Logger
	// Observer receives every lifecycle transition (metrics)
	Observer lifecycle.Observer
	Codec    Codec
	// Handshake is the middleware chain that must pass before a socket upgrade
	Handshake []lifecycle.Middleware

	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin defaults to accepting any origin
	CheckOrigin func(*http.Request) bool
	// MessageBuffer is how many inbound socket messages may queue while a handler runs
	MessageBuffer int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = 4096
	}
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = 4096
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	if o.MessageBuffer == 0 {
		o.MessageBuffer = 16
	}
	return o
}

func (o Options) contextOptions(logger *zap.Logger) []lifecycle.Option {
	opts := []lifecycle.Option{lifecycle.WithLogger(logger)}
	if o.Observer != nil {
		opts = append(opts, lifecycle.WithObserver(o.Observer))
	}
	return opts
}

// Codec controls how socket payloads are (de)serialized
type Codec struct {
	// JSONReceive decodes inbound messages as JSON, otherwise they are passed on as text
	JSONReceive bool
	// JSONSend encodes outbound payloads as JSON, otherwise they are sent as text
	JSONSend bool
}

// JSONCodec is the default: JSON in both directions
var JSONCodec = Codec{JSONReceive: true, JSONSend: true}

// Decode converts an inbound message into a handler payload
func (c Codec) Decode(data []byte) (any, error) {
	if !c.JSONReceive {
		return string(data), nil
	}
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON message: %w", err)
	}
	return v, nil
}

// Encode converts a handler result into an outbound message
func (c Codec) Encode(v any) ([]byte, error) {
	if c.JSONSend {
		return json.Marshal(v)
	}
	return []byte(text(v)), nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
