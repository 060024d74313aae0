// Package single provides the single mode runner, serving one configuration.
package single

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/modes"
	"github.com/sirosfoundation/kettle/internal/server"
	"github.com/sirosfoundation/kettle/pkg/config"
)

func init() {
	modes.Register(modes.ModeSingle, func(cfg interface{}) (modes.Runner, error) {
		c, ok := cfg.(*Config)
		if !ok {
			return nil, fmt.Errorf("invalid config type for single mode")
		}
		return New(c)
	})
}

// Config holds configuration for the single mode
type Config struct {
	Config *config.Config
	Logger *zap.Logger
}

// Runner implements the single mode
type Runner struct {
	cfg *Config
	srv *server.Server
}

// New creates a new single-mode runner. Routes are registered here, so a bad
// route fails before anything listens.
func New(cfg *Config) (*Runner, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	srv, err := server.New(cfg.Config, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return &Runner{cfg: cfg, srv: srv}, nil
}

// Name returns the mode name
func (r *Runner) Name() modes.Mode {
	return modes.ModeSingle
}

// Server returns the underlying server
func (r *Runner) Server() *server.Server {
	return r.srv
}

// Run starts the server and blocks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.cfg.Logger.Info("Starting server",
		zap.String("name", r.srv.Name()),
		zap.String("address", r.cfg.Config.Server.Address()))
	return modes.Serve(ctx, r.srv, r.cfg.Logger)
}

// Shutdown gracefully shuts down the server
func (r *Runner) Shutdown(ctx context.Context) error {
	if err := r.srv.Stop(ctx); err != nil {
		r.cfg.Logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	return nil
}
