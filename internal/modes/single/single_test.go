package single

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/modes"
	"github.com/sirosfoundation/kettle/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Routes = []config.RouteConfig{{Route: "/ping", Handler: "status"}}
	return cfg
}

func TestRegistered(t *testing.T) {
	r, err := modes.NewRunner(modes.ModeSingle, &Config{Config: testConfig(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, modes.ModeSingle, r.Name())

	_, err = modes.NewRunner(modes.ModeSingle, "wrong")
	assert.Error(t, err)
}

func TestNew_BadRoute(t *testing.T) {
	cfg := testConfig()
	cfg.Routes = []config.RouteConfig{{Route: "/x", Handler: "missing"}}
	_, err := New(&Config{Config: cfg})
	assert.Error(t, err)
}

func TestRunner_RunAndShutdown(t *testing.T) {
	r, err := New(&Config{Config: testConfig(), Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-r.Server().OnListen()
	resp, err := http.Get("http://" + r.Server().Addr() + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, r.Shutdown(shutdownCtx))
	<-r.Server().OnStopped()
}
