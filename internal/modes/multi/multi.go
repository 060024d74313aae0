// Package multi provides the multi mode runner, serving an aggregate of servers.
package multi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/composer"
	"github.com/sirosfoundation/kettle/internal/modes"
)

func init() {
	modes.Register(modes.ModeMulti, func(cfg interface{}) (modes.Runner, error) {
		c, ok := cfg.(*Config)
		if !ok {
			return nil, fmt.Errorf("invalid config type for multi mode")
		}
		return New(c)
	})
}

// Config holds configuration for the multi mode
type Config struct {
	Specs   composer.Specs
	Logger  *zap.Logger
	Options []composer.Option
}

// Runner implements the multi mode
type Runner struct {
	cfg       *Config
	aggregate *composer.Aggregate
}

// New builds the aggregate. Any constituent failing to load aborts.
func New(cfg *Config) (*Runner, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	agg, err := composer.New(cfg.Logger, cfg.Options...).Build(cfg.Specs)
	if err != nil {
		return nil, fmt.Errorf("failed to build multi-server: %w", err)
	}
	return &Runner{cfg: cfg, aggregate: agg}, nil
}

// Name returns the mode name
func (r *Runner) Name() modes.Mode {
	return modes.ModeMulti
}

// Aggregate returns the underlying aggregate
func (r *Runner) Aggregate() *composer.Aggregate {
	return r.aggregate
}

// Run starts every server and blocks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.cfg.Logger.Info("Starting servers",
		zap.String("aggregate", r.aggregate.Name()),
		zap.Strings("servers", r.aggregate.Keys()))
	return modes.Serve(ctx, r.aggregate, r.cfg.Logger)
}

// Shutdown gracefully shuts down every server
func (r *Runner) Shutdown(ctx context.Context) error {
	if err := r.aggregate.Stop(ctx); err != nil {
		r.cfg.Logger.Error("Servers forced to shutdown", zap.Error(err))
		return err
	}
	return nil
}
