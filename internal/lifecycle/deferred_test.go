package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_FirstSettlementWins(t *testing.T) {
	d := NewDeferred()
	assert.False(t, d.Settled())

	assert.True(t, d.Resolve("a"))
	assert.False(t, d.Reject(errors.New("b")))
	assert.False(t, d.Resolve("c"))

	assert.True(t, d.Settled())
	assert.Equal(t, Result{Value: "a"}, d.Result())
}

func TestDeferred_RejectNil(t *testing.T) {
	d := NewDeferred()
	d.Reject(nil)
	assert.ErrorIs(t, d.Result().Err, ErrUnknown)
	assert.Equal(t, DefaultErrorMessage, NewErrorFrame(d.Result().Err).Message)
}

func TestDeferred_AwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDeferred().Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGo(t *testing.T) {
	d := Go(context.Background(), func(context.Context) (any, error) { return 7, nil })
	res, err := d.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res.Value)

	d = Go(context.Background(), func(context.Context) (any, error) { panic(errors.New("inner")) })
	res, err = d.Await(context.Background())
	require.NoError(t, err)
	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.EqualError(t, errors.Unwrap(res.Err), "inner")
}

func TestNewErrorFrame(t *testing.T) {
	assert.Equal(t, ErrorFrame{IsError: true, Message: "nope"}, NewErrorFrame(errors.New("nope")))
	assert.Equal(t, ErrorFrame{IsError: true, Message: DefaultErrorMessage}, NewErrorFrame(nil))
	assert.Equal(t, ErrorFrame{IsError: true, Message: DefaultErrorMessage}, NewErrorFrame(&HandlerError{Status: 400}))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("x")))
	assert.Equal(t, http.StatusNotFound, StatusOf(Fail(http.StatusNotFound, "missing")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(&HandlerError{}))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(Fail(http.StatusOK, "not an error status")))
}

func TestGate_Accepted(t *testing.T) {
	var calls atomic.Int32
	var order []string
	chain := []Middleware{
		MiddlewareFunc(func(context.Context, *Request) error { order = append(order, "a"); return nil }),
		MiddlewareFunc(func(context.Context, *Request) error {
			time.Sleep(10 * time.Millisecond)
			order = append(order, "b")
			return nil
		}),
	}

	ok := Gate(context.Background(), chain, &Request{}, func(accepted bool, status int, message string) {
		calls.Add(1)
		assert.True(t, accepted)
		assert.Zero(t, status)
		assert.Empty(t, message)
	})

	assert.True(t, ok)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGate_Rejected(t *testing.T) {
	var calls atomic.Int32
	reached := false
	chain := []Middleware{
		MiddlewareFunc(func(context.Context, *Request) error { return Fail(http.StatusUnauthorized, "bad token") }),
		MiddlewareFunc(func(context.Context, *Request) error { reached = true; return nil }),
	}

	ok := Gate(context.Background(), chain, &Request{}, func(accepted bool, status int, message string) {
		calls.Add(1)
		assert.False(t, accepted)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "bad token", message)
	})

	assert.False(t, ok)
	assert.False(t, reached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGate_EmptyChain(t *testing.T) {
	ok := Gate(context.Background(), nil, &Request{}, func(accepted bool, _ int, _ string) {
		assert.True(t, accepted)
	})
	assert.True(t, ok)
}
