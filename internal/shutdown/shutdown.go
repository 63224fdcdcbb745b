// Package shutdown coordinates orderly teardown of the conversion pipeline.
// Interrupting a run must still close segment files cleanly and release the
// storage backend, otherwise the staging directory is left with unreadable
// partial segments.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component with resources to release.
type Closer interface {
	Close() error
}

// Hook is a cleanup function run during shutdown.
type Hook func(ctx context.Context) error

// Teardown order. Lower runs first: stop producing records before closing
// the files they target, close files before the backend they upload through.
const (
	PriorityWorkers  = 10
	PrioritySegments = 20
	PriorityStorage  = 30
)

type entry struct {
	name     string
	priority int
	closer   Closer
	hook     Hook
}

// Coordinator runs registered cleanup in priority order, once, within a
// deadline.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	entries []entry

	once      sync.Once
	trigger   sync.Once
	triggered chan struct{}
}

// New creates a coordinator with the given overall shutdown deadline.
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:   timeout,
		logger:    logger.With().Str("component", "shutdown").Logger(),
		triggered: make(chan struct{}),
	}
}

// Register adds a component to close during shutdown.
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, priority: priority, closer: closer})
}

// RegisterHook adds a cleanup function to run during shutdown.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, priority: priority, hook: hook})
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or Trigger is called.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.triggered:
		return syscall.SIGTERM
	}
}

// Trigger requests shutdown programmatically. Safe to call concurrently and
// more than once.
func (c *Coordinator) Trigger() {
	c.trigger.Do(func() {
		close(c.triggered)
	})
}

// Shutdown runs all registered cleanup in priority order. It executes at most
// once; later calls are no-ops.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.once.Do(func() {
		c.Trigger()

		c.mu.Lock()
		entries := make([]entry, len(c.entries))
		copy(entries, c.entries)
		c.mu.Unlock()

		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].priority < entries[j].priority
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("entries", len(entries)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, e := range entries {
			select {
			case <-ctx.Done():
				c.logger.Warn().
					Str("entry", e.name).
					Msg("Shutdown deadline reached, skipping remaining cleanup")
				shutdownErr = ctx.Err()
				return
			default:
			}

			var err error
			if e.hook != nil {
				err = e.hook(ctx)
			} else {
				err = e.closer.Close()
			}
			if err != nil {
				c.logger.Error().Err(err).Str("entry", e.name).Msg("Cleanup failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			} else {
				c.logger.Debug().Str("entry", e.name).Msg("Cleanup complete")
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})

	return shutdownErr
}
