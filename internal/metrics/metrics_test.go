package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

type nopTransport struct {
	kind       lifecycle.Kind
	disconnect chan struct{}
}

func newNopTransport(kind lifecycle.Kind) *nopTransport {
	return &nopTransport{kind: kind, disconnect: make(chan struct{})}
}

func (t *nopTransport) Kind() lifecycle.Kind { return t.kind }
func (t *nopTransport) Deliver(context.Context, *lifecycle.Request, any) error {
	return nil
}
func (t *nopTransport) DeliverError(context.Context, *lifecycle.Request, error) error {
	return nil
}
func (t *nopTransport) Disconnected() <-chan struct{} { return t.disconnect }
func (t *nopTransport) Close() error                  { return nil }

func run(t *testing.T, m *Metrics, kind lifecycle.Kind, err error) {
	t.Helper()
	c := lifecycle.New(newNopTransport(kind), lifecycle.WithObserver(m))
	require.NoError(t, c.Bind())
	require.NoError(t, c.Run(lifecycle.HandlerFunc(func(context.Context, *lifecycle.Request) (any, error) {
		return "ok", err
	}), &lifecycle.Request{}))
}

func TestMetrics_Outcomes(t *testing.T) {
	m := New("test")

	run(t, m, lifecycle.KindHTTP, nil)
	run(t, m, lifecycle.KindHTTP, nil)
	run(t, m, lifecycle.KindWebSocket, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("http", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("ws", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("http")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("ws")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("http", "destroyed")))
}

func TestMetrics_Disconnect(t *testing.T) {
	m := New("test")
	tr := newNopTransport(lifecycle.KindSocketEvent)
	c := lifecycle.New(tr, lifecycle.WithObserver(m))
	require.NoError(t, c.Bind())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("socket-event")))

	close(tr.disconnect)
	<-c.Done()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects.WithLabelValues("socket-event")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("socket-event")))
}

func TestMetrics_DestroyBeforeBind(t *testing.T) {
	m := New("test")
	c := lifecycle.New(newNopTransport(lifecycle.KindHTTP), lifecycle.WithObserver(m))
	c.Destroy()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("http")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("api")
	m.Unmatched(ReasonNoMatch)
	m.Unmatched(ReasonDecodeError)
	m.Unmatched(ReasonNoMatch)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.unmatched.WithLabelValues(ReasonNoMatch)))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `kettle_unmatched_requests_total{reason="no_match",server="api"} 2`))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New("a"), New("b")
	a.Unmatched(ReasonNoMatch)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.unmatched.WithLabelValues(ReasonNoMatch)))
	assert.NotSame(t, a.Registry(), b.Registry())
}
