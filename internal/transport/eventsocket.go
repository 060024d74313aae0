package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// ErrorEvent is the event name failures are emitted under
const ErrorEvent = "error"

// ErrMissingEvent is returned for frames without an event name
var ErrMissingEvent = errors.New("event frame has no event name")

// EventFrame is the wire format of the socket-event transport
type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEventFrame decodes a frame and its data according to codec
func ParseEventFrame(data []byte, codec Codec) (string, any, error) {
	var f EventFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("invalid event frame: %w", err)
	}
	if f.Event == "" {
		return "", nil, ErrMissingEvent
	}
	if len(f.Data) == 0 {
		return f.Event, nil, nil
	}
	if codec.JSONReceive {
		payload, err := codec.Decode(f.Data)
		return f.Event, payload, err
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return f.Event, s, nil
	}
	return f.Event, string(f.Data), nil
}

// EventSocket serves routes where a connection carries exactly one request event.
// The reply is emitted under the same event name, after which the server closes
// the connection.
type EventSocket struct {
	*hub
}

// NewEventSocket creates the socket-event adapter
func NewEventSocket(opts Options) *EventSocket {
	return &EventSocket{hub: newHub(opts, "socket-event")}
}

// Serve upgrades c, waits for the first event and runs h for it
func (e *EventSocket) Serve(c *gin.Context, h lifecycle.Handler, params map[string]string) {
	sc, hs, ok := e.accept(c, params, lifecycle.KindSocketEvent)
	if !ok {
		return
	}
	defer e.release(sc)

	tr := &eventTransport{conn: sc, codec: e.opts.Codec}
	lc := lifecycle.New(tr, e.opts.contextOptions(e.logger)...)
	if err := lc.Bind(); err != nil {
		e.logger.Error("Failed to bind connection", zap.Error(err))
		return
	}
	defer lc.Destroy()

	frames := make(chan []byte, e.opts.MessageBuffer)
	go sc.readLoop(e.logger, frames)

	for {
		select {
		case <-lc.Done():
			return
		case data, open := <-frames:
			if !open {
				return
			}
			event, payload, err := ParseEventFrame(data, e.opts.Codec)
			if err != nil {
				e.logger.Debug("Failed to parse event", zap.String("conn_id", sc.id), zap.Error(err))
				if err := sc.writeJSON(errorEvent(err)); err != nil {
					return
				}
				continue
			}
			tr.event = event
			req := &lifecycle.Request{Params: params, Payload: payload, Event: event, HTTP: c.Request, Claims: hs.Claims}
			if err := lc.Run(h, req); err != nil {
				e.logger.Debug("Failed to emit reply", zap.String("conn_id", sc.id), zap.Error(err))
			}
			return
		}
	}
}

func errorEvent(err error) EventFrame {
	data, _ := json.Marshal(lifecycle.NewErrorFrame(err))
	return EventFrame{Event: ErrorEvent, Data: data}
}

type eventTransport struct {
	conn  *socketConn
	codec Codec
	event string
}

func (t *eventTransport) Kind() lifecycle.Kind { return lifecycle.KindSocketEvent }

func (t *eventTransport) Deliver(_ context.Context, _ *lifecycle.Request, payload any) error {
	var (
		data []byte
		err  error
	)
	if t.codec.JSONSend {
		data, err = json.Marshal(payload)
	} else {
		data, err = json.Marshal(text(payload))
	}
	if err != nil {
		return err
	}
	return t.conn.writeJSON(EventFrame{Event: t.event, Data: data})
}

func (t *eventTransport) DeliverError(_ context.Context, _ *lifecycle.Request, err error) error {
	return t.conn.writeJSON(errorEvent(err))
}

func (t *eventTransport) Disconnected() <-chan struct{} { return t.conn.disconnected }

func (t *eventTransport) Close() error { return t.conn.close() }
