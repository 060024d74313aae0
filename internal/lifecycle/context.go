package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport is the adapter a Context delivers through
type Transport interface {
	Kind() Kind
	// Deliver sends a successful handler result to the client
	Deliver(ctx context.Context, req *Request, payload any) error
	// DeliverError sends a handler failure to the client
	DeliverError(ctx context.Context, req *Request, err error) error
	// Disconnected is closed when the client goes away. It may be nil.
	Disconnected() <-chan struct{}
	// Close releases the resources the Context owns
	Close() error
}

// Observer is notified of every state transition
type Observer interface {
	Transition(c *Context, from, to State)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(c *Context, from, to State)

// Transition implements Observer
func (f ObserverFunc) Transition(c *Context, from, to State) {
	f(c, from, to)
}

// Option configures a Context
type Option func(*Context)

// WithLogger sets the logger; the Context adds its id and kind as fields
func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithID overrides the generated context ID
func WithID(id string) Option {
	return func(c *Context) {
		c.id = id
	}
}

// WithObserver registers a transition observer
func WithObserver(o Observer) Option {
	return func(c *Context) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// OnEnded registers a hook run exactly once when the Context ends
func OnEnded(f func(*Context)) Option {
	return func(c *Context) {
		c.onEnded = append(c.onEnded, f)
	}
}

// Context is the state machine for one request (HTTP, socket-event) or one inbound
// message (WebSocket).
type Context struct {
	id        string
	transport Transport
	logger    *zap.Logger
	observers []Observer
	onEnded   []func(*Context)

	mu           sync.Mutex
	state        State
	outcome      State
	disconnected bool

	ctx         context.Context
	cancel      context.CancelFunc
	destroyOnce sync.Once
	destroyed   chan struct{}
}

// New creates a Context in the created state
func New(t Transport, opts ...Option) *Context {
	c := &Context{
		id:        uuid.New().String(),
		transport: t,
		logger:    zap.NewNop(),
		state:     StateCreated,
		destroyed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("context_id", c.id), zap.String("kind", string(t.Kind())))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// ID returns the context identity
func (c *Context) ID() string { return c.id }

// Kind returns the transport kind
func (c *Context) Kind() Kind { return c.transport.Kind() }

// State returns the current state
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outcome returns StateSuccess or StateError once the handler has settled and its
// result was delivered, or StateCreated before that.
func (c *Context) Outcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Disconnected reports whether the Context was destroyed by a transport disconnect
func (c *Context) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Done is closed once the Context is destroyed
func (c *Context) Done() <-chan struct{} {
	return c.destroyed
}

func (c *Context) transition(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = to
	if to == StateSuccess || to == StateError {
		c.outcome = to
	}
	c.mu.Unlock()

	c.notify(from, to)
	return true
}

func (c *Context) notify(from, to State) {
	for _, o := range c.observers {
		o.Transition(c, from, to)
	}
}

// Bind attaches the transport and starts observing it for disconnects
func (c *Context) Bind() error {
	if !c.transition(StateCreated, StateBound) {
		return fmt.Errorf("%w: bind in state %s", ErrInvalidTransition, c.State())
	}
	go c.watch()
	return nil
}

func (c *Context) watch() {
	select {
	case <-c.transport.Disconnected():
		c.logger.Debug("Transport disconnected", zap.String("state", c.State().String()))
		c.destroy(true)
	case <-c.destroyed:
	}
}

// Run executes h for req and drives the Context to completion. It blocks until the
// result is delivered or the transport disconnects. A Context that was already
// destroyed by a disconnect is left alone and Run returns nil.
func (c *Context) Run(h Handler, req *Request) error {
	if !c.transition(StateBound, StateHandling) {
		if c.State().Terminal() {
			return nil
		}
		return fmt.Errorf("%w: run in state %s", ErrInvalidTransition, c.State())
	}

	req.ID = c.id
	req.Kind = c.Kind()

	d := Go(c.ctx, func(ctx context.Context) (any, error) {
		return h.Handle(ctx, req)
	})

	select {
	case <-d.Done():
	case <-c.destroyed:
		c.discard(d)
		return nil
	}

	res := d.Result()
	var err error
	if res.Err != nil {
		if !c.transition(StateHandling, StateError) {
			c.discard(d)
			return nil
		}
		c.logger.Warn("Handler failed", zap.Error(res.Err))
		err = c.transport.DeliverError(c.ctx, req, res.Err)
	} else {
		if !c.transition(StateHandling, StateSuccess) {
			c.discard(d)
			return nil
		}
		err = c.transport.Deliver(c.ctx, req, res.Value)
	}

	c.Destroy()

	if err != nil {
		return fmt.Errorf("failed to deliver %s result: %w", c.Outcome(), err)
	}
	return nil
}

// discard logs the outcome of a handler that settles after its Context went away
func (c *Context) discard(d *Deferred) {
	go func() {
		res := d.Result()
		c.logger.Debug("Discarding handler outcome after disconnect", zap.Bool("failed", res.Err != nil), zap.Error(res.Err))
	}()
}

// Destroy ends the Context and releases its transport. Calling it again is a no-op.
func (c *Context) Destroy() {
	c.destroy(false)
}

func (c *Context) destroy(disconnected bool) {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		from := c.state
		c.state = StateEnded
		c.disconnected = disconnected
		c.mu.Unlock()
		c.notify(from, StateEnded)

		for _, f := range c.onEnded {
			f(c)
		}

		if err := c.transport.Close(); err != nil {
			c.logger.Debug("Failed to close transport", zap.Error(err))
		}

		c.mu.Lock()
		c.state = StateDestroyed
		c.mu.Unlock()
		c.notify(StateEnded, StateDestroyed)

		c.cancel()
		close(c.destroyed)
	})
}
