package multi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/composer"
	"github.com/sirosfoundation/kettle/internal/modes"
	"github.com/sirosfoundation/kettle/internal/server"
	"github.com/sirosfoundation/kettle/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const serverYAML = `
server:
  host: 127.0.0.1
  port: 0
routes:
  - route: /ping
    handler: status
`

func writeServers(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(serverYAML), 0o644))
	}
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  a: {}\n  b: {}\n"), 0o644))
	return path
}

func TestRunner_RunAndShutdown(t *testing.T) {
	specs, err := config.LoadServers(writeServers(t))
	require.NoError(t, err)

	r, err := modes.NewRunner(modes.ModeMulti, &Config{Specs: composer.Specs(specs), Logger: zap.NewNop()})
	require.NoError(t, err)
	runner := r.(*Runner)
	assert.Equal(t, modes.ModeMulti, runner.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	<-runner.Aggregate().OnListen()
	for _, key := range []string{"a", "b"} {
		sub, ok := runner.Aggregate().Component(key)
		require.True(t, ok)
		resp, err := http.Get("http://" + sub.(*server.Server).Addr() + "/ping")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	cancel()
	require.NoError(t, <-done)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, runner.Shutdown(shutdownCtx))
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New(&Config{Specs: composer.Specs{"x": {ConfigName: "x", ConfigPath: t.TempDir()}}})
	assert.Error(t, err)
}

func TestNew_WrongConfigType(t *testing.T) {
	_, err := modes.NewRunner(modes.ModeMulti, 42)
	assert.Error(t, err)
}
