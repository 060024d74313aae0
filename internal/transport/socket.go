package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

const closeGracePeriod = time.Second

// socketConn is one upgraded connection shared by the lifecycle contexts running on it
type socketConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	hangUpOnce   sync.Once
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newSocketConn(conn *websocket.Conn) *socketConn {
	return &socketConn{
		id:           uuid.New().String(),
		conn:         conn,
		disconnected: make(chan struct{}),
	}
}

func (s *socketConn) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socketConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(data)
}

// hangUp marks the peer as gone
func (s *socketConn) hangUp() {
	s.hangUpOnce.Do(func() { close(s.disconnected) })
}

// close sends a normal closure and releases the connection
func (s *socketConn) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// readLoop forwards inbound text and binary messages until the peer goes away
func (s *socketConn) readLoop(logger *zap.Logger, out chan<- []byte) {
	defer close(out)
	defer s.hangUp()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
		select {
		case out <- data:
		case <-s.disconnected:
			return
		}
	}
}

// hub tracks the live connections of one adapter
type hub struct {
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader

	connsMu sync.RWMutex
	conns   map[string]*socketConn
}

func newHub(opts Options, name string) *hub {
	opts = opts.withDefaults()
	return &hub{
		opts:   opts,
		logger: opts.Logger.Named(name),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns: make(map[string]*socketConn),
	}
}

// accept runs the handshake chain and upgrades the connection when it passes.
// A rejected handshake is answered with the status and an error frame. The returned
// request carries what the handshake middleware learned about the client.
func (h *hub) accept(c *gin.Context, params map[string]string, kind lifecycle.Kind) (*socketConn, *lifecycle.Request, bool) {
	req := &lifecycle.Request{Kind: kind, Params: params, HTTP: c.Request}
	ok := lifecycle.Gate(c.Request.Context(), h.opts.Handshake, req, func(accepted bool, status int, message string) {
		if accepted {
			return
		}
		h.logger.Info("Handshake rejected", zap.Int("status", status), zap.String("message", message))
		c.AbortWithStatusJSON(status, lifecycle.ErrorFrame{IsError: true, Message: message})
	})
	if !ok {
		return nil, nil, false
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return nil, nil, false
	}

	sc := newSocketConn(conn)
	h.connsMu.Lock()
	h.conns[sc.id] = sc
	h.connsMu.Unlock()
	h.logger.Debug("Client connected", zap.String("conn_id", sc.id))
	return sc, req, true
}

func (h *hub) release(sc *socketConn) {
	h.connsMu.Lock()
	delete(h.conns, sc.id)
	h.connsMu.Unlock()
	if err := sc.close(); err != nil {
		h.logger.Debug("Failed to close connection", zap.String("conn_id", sc.id), zap.Error(err))
	}
	h.logger.Debug("Client disconnected", zap.String("conn_id", sc.id))
}

// Count returns the number of open connections
func (h *hub) Count() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// Close closes all connections
func (h *hub) Close() {
	h.connsMu.Lock()
	conns := h.conns
	h.conns = make(map[string]*socketConn)
	h.connsMu.Unlock()

	for _, sc := range conns {
		_ = sc.close()
	}
}
