package transport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

// HTTP serves plain request/response routes
type HTTP struct {
	opts   Options
	logger *zap.Logger
}

// NewHTTP creates the HTTP adapter
func NewHTTP(opts Options) *HTTP {
	opts = opts.withDefaults()
	return &HTTP{opts: opts, logger: opts.Logger.Named("http")}
}

// Serve runs h for the request in c
func (a *HTTP) Serve(c *gin.Context, h lifecycle.Handler, params map[string]string) {
	lc := lifecycle.New(&httpTransport{c: c}, a.opts.contextOptions(a.logger)...)
	if err := lc.Bind(); err != nil {
		a.logger.Error("Failed to bind request", zap.Error(err))
		return
	}
	req := &lifecycle.Request{Params: params, HTTP: c.Request}
	if err := lc.Run(h, req); err != nil {
		a.logger.Debug("Failed to write response", zap.Error(err))
	}
}

type httpTransport struct {
	c *gin.Context
}

func (t *httpTransport) Kind() lifecycle.Kind { return lifecycle.KindHTTP }

func (t *httpTransport) Deliver(_ context.Context, _ *lifecycle.Request, payload any) error {
	switch v := payload.(type) {
	case nil:
		t.c.Status(http.StatusNoContent)
	case string:
		t.c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(v))
	case []byte:
		t.c.Data(http.StatusOK, "application/octet-stream", v)
	default:
		t.c.JSON(http.StatusOK, v)
	}
	return nil
}

func (t *httpTransport) DeliverError(_ context.Context, _ *lifecycle.Request, err error) error {
	t.c.JSON(lifecycle.StatusOf(err), lifecycle.NewErrorFrame(err))
	return nil
}

func (t *httpTransport) Disconnected() <-chan struct{} {
	return t.c.Request.Context().Done()
}

func (t *httpTransport) Close() error { return nil }
