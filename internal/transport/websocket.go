package transport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// WebSocket serves routes where every inbound message is its own request
type WebSocket struct {
	*hub
}

// NewWebSocket creates the WebSocket adapter
func NewWebSocket(opts Options) *WebSocket {
	return &WebSocket{hub: newHub(opts, "websocket")}
}

// Serve upgrades c and runs h once per inbound message until the client
// disconnects. Messages still queued at that point are never handled.
func (w *WebSocket) Serve(c *gin.Context, h lifecycle.Handler, params map[string]string) {
	sc, hs, ok := w.accept(c, params, lifecycle.KindWebSocket)
	if !ok {
		return
	}
	defer w.release(sc)

	messages := make(chan []byte, w.opts.MessageBuffer)
	go sc.readLoop(w.logger, messages)

	for data := range messages {
		// messages queued before a hang-up are dropped
		select {
		case <-sc.disconnected:
			return
		default:
		}

		payload, err := w.opts.Codec.Decode(data)
		if err != nil {
			w.logger.Debug("Failed to parse message", zap.String("conn_id", sc.id), zap.Error(err))
			if err := sc.writeJSON(lifecycle.NewErrorFrame(err)); err != nil {
				return
			}
			continue
		}

		lc := lifecycle.New(&messageTransport{conn: sc, codec: w.opts.Codec}, w.opts.contextOptions(w.logger)...)
		if err := lc.Bind(); err != nil {
			w.logger.Error("Failed to bind message", zap.Error(err))
			return
		}
		req := &lifecycle.Request{Params: params, Payload: payload, HTTP: c.Request, Claims: hs.Claims}
		if err := lc.Run(h, req); err != nil {
			w.logger.Debug("Failed to send reply", zap.String("conn_id", sc.id), zap.Error(err))
		}
	}
}

// messageTransport delivers the result of one message. Closing it leaves the
// connection open for the next message.
type messageTransport struct {
	conn  *socketConn
	codec Codec
}

func (t *messageTransport) Kind() lifecycle.Kind { return lifecycle.KindWebSocket }

func (t *messageTransport) Deliver(_ context.Context, _ *lifecycle.Request, payload any) error {
	data, err := t.codec.Encode(payload)
	if err != nil {
		return err
	}
	return t.conn.write(data)
}

func (t *messageTransport) DeliverError(_ context.Context, _ *lifecycle.Request, err error) error {
	return t.conn.writeJSON(lifecycle.NewErrorFrame(err))
}

func (t *messageTransport) Disconnected() <-chan struct{} { return t.conn.disconnected }

func (t *messageTransport) Close() error { return nil }
