package lifecycle

import (
	"context"
	"net/http"
)

// Middleware runs before a handler. Returning an error rejects the request.
type Middleware interface {
	Handle(ctx context.Context, req *Request) error
}

// MiddlewareFunc adapts a function to the Middleware interface
type MiddlewareFunc func(ctx context.Context, req *Request) error

// Handle implements Middleware
func (f MiddlewareFunc) Handle(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// HandshakeCallback receives the verdict of a handshake: (true, 0, "") when the
// middleware chain succeeded, (false, status, message) otherwise.
type HandshakeCallback func(accepted bool, status int, message string)

// RunChain runs chain in order and settles once every middleware has passed or
// the first one failed
func RunChain(ctx context.Context, chain []Middleware, req *Request) *Deferred {
	return Go(ctx, func(ctx context.Context) (any, error) {
		for _, m := range chain {
			if err := m.Handle(ctx, req); err != nil {
				return nil, err
			}
		}
		return true, nil
	})
}

// Gate awaits the full middleware chain and invokes cb exactly once with the verdict.
// It returns the accepted flag passed to cb.
func Gate(ctx context.Context, chain []Middleware, req *Request, cb HandshakeCallback) bool {
	res, err := RunChain(ctx, chain, req).Await(ctx)
	if err != nil {
		cb(false, http.StatusBadRequest, "handshake aborted")
		return false
	}
	if res.Err != nil {
		cb(false, StatusOf(res.Err), NewErrorFrame(res.Err).Message)
		return false
	}
	cb(true, 0, "")
	return true
}
