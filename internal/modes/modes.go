// Package modes provides the mode dispatcher for the kettle binary.
// The binary can run in different modes:
// - single: runs one server from one configuration file - default
// - multi: runs an aggregate of servers described by a servers file
package modes

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/composer"
)

// Mode represents an operating mode
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// ValidModes lists all valid operating modes
var ValidModes = []Mode{ModeSingle, ModeMulti}

// ErrStoppedUnexpectedly is returned by Run when the servers stop without being asked to
var ErrStoppedUnexpectedly = errors.New("servers stopped unexpectedly")

// IsValid checks if a mode string is valid
func (m Mode) IsValid() bool {
	for _, valid := range ValidModes {
		if m == valid {
			return true
		}
	}
	return false
}

// ParseMode parses a mode string into a Mode, returning an error if invalid
func ParseMode(s string) (Mode, error) {
	mode := Mode(s)
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid mode %q, valid modes: %v", s, ValidModes)
	}
	return mode, nil
}

// Runner is the interface for mode-specific runners
type Runner interface {
	// Name returns the mode name
	Name() Mode

	// Run starts the mode's servers and blocks until shutdown
	Run(ctx context.Context) error

	// Shutdown gracefully shuts down the mode's servers
	Shutdown(ctx context.Context) error
}

// RunnerFactory creates a Runner for the given mode
type RunnerFactory func(cfg interface{}) (Runner, error)

// registry of runner factories
var runners = make(map[Mode]RunnerFactory)

// Register registers a runner factory for a mode
func Register(mode Mode, factory RunnerFactory) {
	runners[mode] = factory
}

// NewRunner creates a runner for the given mode
func NewRunner(mode Mode, cfg interface{}) (Runner, error) {
	factory, ok := runners[mode]
	if !ok {
		return nil, fmt.Errorf("no runner registered for mode %q", mode)
	}
	return factory(cfg)
}

// ListRegistered returns the registered modes, sorted
func ListRegistered() []Mode {
	var modes []Mode
	for m := range runners {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Serve starts c and blocks until ctx is cancelled or c stops on its own
func Serve(ctx context.Context, c composer.Constituent, logger *zap.Logger) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	select {
	case <-c.OnListen():
		logger.Info("Listening", zap.String("name", c.Name()))
	case <-c.OnStopped():
		return ErrStoppedUnexpectedly
	case <-ctx.Done():
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-c.OnStopped():
		if ctx.Err() != nil {
			return nil
		}
		return ErrStoppedUnexpectedly
	}
}
