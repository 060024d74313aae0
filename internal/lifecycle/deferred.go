package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// Result is the settled outcome of a Deferred
type Result struct {
	Value any
	Err   error
}

// Deferred is an eventually settling success/error outcome.
// Only the first Resolve or Reject takes effect.
type Deferred struct {
	once sync.Once
	done chan struct{}
	res  Result
}

// NewDeferred creates an unsettled Deferred
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolve settles d with a success value. It reports whether this call settled d.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(Result{Value: v})
}

// Reject settles d with an error. A nil err is replaced by ErrUnknown.
func (d *Deferred) Reject(err error) bool {
	if err == nil {
		err = ErrUnknown
	}
	return d.settle(Result{Err: err})
}

func (d *Deferred) settle(r Result) bool {
	settled := false
	d.once.Do(func() {
		d.res = r
		settled = true
		close(d.done)
	})
	return settled
}

// Done is closed once d has settled
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether d has settled
func (d *Deferred) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (d *Deferred) Result() Result {
	<-d.done
	return d.res
}

// Await blocks until d settles or ctx is done
func (d *Deferred) Await(ctx context.Context) (Result, error) {
	select {
	case <-d.done:
		return d.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// PanicError is the rejection of a Deferred whose function panicked
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Go runs fn on its own goroutine and returns its outcome as a Deferred.
// A panic in fn rejects the Deferred with a *PanicError.
func Go(ctx context.Context, fn func(context.Context) (any, error)) *Deferred {
	d := NewDeferred()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.Reject(&PanicError{Value: r})
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(v)
	}()
	return d
}
