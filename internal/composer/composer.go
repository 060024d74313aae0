// Package composer builds one aggregate server out of several independently
// configured servers. The aggregate starts and stops its constituents together and
// reports listen and stop only once every constituent has.
package composer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/kettle/internal/server"
	"github.com/sirosfoundation/kettle/pkg/config"
)

// ErrEmptySpec is returned by Build when no constituent is declared
var ErrEmptySpec = errors.New("multi-server spec declares no servers")

// NamePrefix prefixes every aggregate name
const NamePrefix = "kettle.multiServer."

var lastID atomic.Uint64

// Constituent is anything the aggregate can run. *server.Server and *Aggregate
// both satisfy it, so aggregates nest.
type Constituent interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	OnListen() <-chan struct{}
	OnStopped() <-chan struct{}
	Name() string
}

// Specs maps a constituent key to the configuration it is built from
type Specs map[string]config.ServerSpec

// Loader loads the configuration named name under dir
type Loader func(dir, name string) (*config.Config, error)

// Factory constructs a constituent from its loaded configuration
type Factory func(key string, cfg *config.Config, logger *zap.Logger) (Constituent, error)

// Composer builds aggregates
type Composer struct {
	loader  Loader
	factory Factory
	logger  *zap.Logger
}

// Option configures a Composer
type Option func(*Composer)

// WithLoader replaces config.LoadNamed
func WithLoader(l Loader) Option {
	return func(c *Composer) { c.loader = l }
}

// WithFactory replaces the default server factory
func WithFactory(f Factory) Option {
	return func(c *Composer) { c.factory = f }
}

// New creates a composer
func New(logger *zap.Logger, opts ...Option) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Composer{
		loader:  config.LoadNamed,
		factory: ServerFactory,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerFactory builds a *server.Server. A configuration without a server name is
// named after its key.
func ServerFactory(key string, cfg *config.Config, logger *zap.Logger) (Constituent, error) {
	if cfg.Server.Name == "" || cfg.Server.Name == config.Default().Server.Name {
		cfg.Server.Name = key
	}
	return server.New(cfg, logger)
}

// Build loads every spec and constructs its constituent. Any load or construction
// error aborts the build.
func (c *Composer) Build(specs Specs) (*Aggregate, error) {
	if len(specs) == 0 {
		return nil, ErrEmptySpec
	}

	keys := make([]string, 0, len(specs))
	for key := range specs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	id := lastID.Add(1)
	a := &Aggregate{
		id:         id,
		name:       fmt.Sprintf("%s%d", NamePrefix, id),
		components: make(map[string]Constituent, len(keys)),
		onListen:   make(map[string]<-chan struct{}, len(keys)),
		onStopped:  make(map[string]<-chan struct{}, len(keys)),
		stopList:   make([]Constituent, 0, len(keys)),
		listening:  make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	a.logger = c.logger.Named("composer").With(zap.String("aggregate", a.name))

	for _, key := range keys {
		spec := specs[key]
		cfg, err := c.loader(spec.ConfigPath, spec.ConfigName)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", key, err)
		}
		sub, err := c.factory(key, cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", key, err)
		}
		a.keys = append(a.keys, key)
		a.components[key] = sub
		a.onListen[key] = sub.OnListen()
		a.onStopped[key] = sub.OnStopped()
		a.stopList = append(a.stopList, sub)
	}

	a.logger.Debug("Aggregate built", zap.Strings("servers", a.keys))
	return a, nil
}

// Aggregate runs a fixed set of constituents as one server
type Aggregate struct {
	id     uint64
	name   string
	logger *zap.Logger

	keys       []string
	components map[string]Constituent
	onListen   map[string]<-chan struct{}
	onStopped  map[string]<-chan struct{}
	stopList   []Constituent

	listening chan struct{}
	stopped   chan struct{}
	watchOnce sync.Once
}

// ID is unique per Build call within the process
func (a *Aggregate) ID() uint64 { return a.id }

// Name returns the aggregate name
func (a *Aggregate) Name() string { return a.name }

// Keys returns the constituent keys in start order
func (a *Aggregate) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Components returns a copy of the constituent map
func (a *Aggregate) Components() map[string]Constituent {
	out := make(map[string]Constituent, len(a.components))
	for k, v := range a.components {
		out[k] = v
	}
	return out
}

// Component returns the constituent built for key
func (a *Aggregate) Component(key string) (Constituent, bool) {
	c, ok := a.components[key]
	return c, ok
}

// OnListen is closed once every constituent listens
func (a *Aggregate) OnListen() <-chan struct{} { return a.listening }

// OnStopped is closed once every constituent has stopped
func (a *Aggregate) OnStopped() <-chan struct{} { return a.stopped }

func (a *Aggregate) watch() {
	a.watchOnce.Do(func() {
		go allOf(a.onStopped, a.stopped, nil)
		go allOf(a.onListen, a.listening, a.stopped)
	})
}

// allOf closes out once every channel in signals is closed. Once abort is closed it
// stops waiting and leaves out open if some signal is still pending.
func allOf(signals map[string]<-chan struct{}, out chan<- struct{}, abort <-chan struct{}) {
	for _, ch := range signals {
		select {
		case <-ch:
		case <-abort:
			select {
			case <-ch:
			default:
				return
			}
		}
	}
	close(out)
}

// Start starts every constituent concurrently. If any fails, the ones already
// started are stopped again.
func (a *Aggregate) Start(ctx context.Context) error {
	a.watch()

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range a.keys {
		key, sub := key, a.components[key]
		g.Go(func() error {
			if err := sub.Start(gctx); err != nil {
				return fmt.Errorf("server %q: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("Failed to start aggregate", zap.Error(err))
		if stopErr := a.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}

	a.logger.Info("Aggregate started", zap.Strings("servers", a.keys))
	return nil
}

// Stop stops every constituent in order and joins their errors
func (a *Aggregate) Stop(ctx context.Context) error {
	a.watch()

	var errs []error
	for i, sub := range a.stopList {
		if err := sub.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", a.keys[i], err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	select {
	case <-a.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.logger.Info("Aggregate stopped")
	return nil
}
