package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"isError":true,"message":"invalid admin token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL+"/", "secret").Get("/status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	_, err = NewClient(srv.URL, "wrong").Get("/status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid admin token")
	assert.Contains(t, err.Error(), "401")
}

func TestRunResolve(t *testing.T) {
	t.Setenv("KETTLE_RESOLVE_TEST", "value")
	resolveArgs = []string{"first"}
	defer func() { resolveArgs = nil }()

	assert.NoError(t, runResolve(nil, []string{"env:KETTLE_RESOLVE_TEST", "args:0", "args"}))
	assert.Error(t, runResolve(nil, []string{"bogus:x"}))
	assert.Error(t, runResolve(nil, []string{"file:/definitely/not/here"}))
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "resolve", "status"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
