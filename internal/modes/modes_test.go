package modes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"single", ModeSingle, false},
		{"multi", ModeMulti, false},
		{"all", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRunner_Unregistered(t *testing.T) {
	_, err := NewRunner(Mode("nope"), nil)
	assert.Error(t, err)
}

type fakeConstituent struct {
	startErr error
	listen   chan struct{}
	stopped  chan struct{}
}

func newFake() *fakeConstituent {
	return &fakeConstituent{listen: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *fakeConstituent) Start(context.Context) error { return f.startErr }
func (f *fakeConstituent) Stop(context.Context) error  { close(f.stopped); return nil }
func (f *fakeConstituent) OnListen() <-chan struct{}   { return f.listen }
func (f *fakeConstituent) OnStopped() <-chan struct{}  { return f.stopped }
func (f *fakeConstituent) Name() string                { return "fake" }

func TestServe_Cancelled(t *testing.T) {
	f := newFake()
	close(f.listen)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, f, zap.NewNop()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_StoppedUnexpectedly(t *testing.T) {
	f := newFake()
	close(f.listen)
	close(f.stopped)
	assert.ErrorIs(t, Serve(context.Background(), f, zap.NewNop()), ErrStoppedUnexpectedly)
}

func TestServe_StartError(t *testing.T) {
	f := newFake()
	f.startErr = errors.New("bind failed")
	assert.ErrorIs(t, Serve(context.Background(), f, zap.NewNop()), f.startErr)
}
