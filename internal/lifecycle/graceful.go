// Package lifecycle implements cooperative process shutdown.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/aortez/dirtsim/internal/logging"
)

// GracefulShutdown runs a LIFO list of shutdown functions with a shared
// timeout budget, as the owning process's Exit handler completes.
type GracefulShutdown struct {
	mu      sync.Mutex
	fns     []func(context.Context) error
	logger  *logging.Logger
	timeout time.Duration
}

func New(logger *logging.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GracefulShutdown{logger: logger, timeout: timeout}
}

// Register appends a shutdown function; functions run in reverse
// registration order, mirroring resource-acquisition order.
func (g *GracefulShutdown) Register(fn func(context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

// Shutdown runs every registered function, most-recently-registered
// first, within a single shared timeout.
func (g *GracefulShutdown) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	g.mu.Lock()
	fns := make([]func(context.Context) error, len(g.fns))
	copy(fns, g.fns)
	g.mu.Unlock()

	var firstErr error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			if g.logger != nil {
				g.logger.Error("shutdown step failed", logging.Err(err))
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}
