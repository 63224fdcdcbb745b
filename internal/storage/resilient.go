package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/graphmill/graphmill/internal/circuitbreaker"
)

// ResilientBackend wraps a backend with a circuit breaker and retry with
// exponential backoff. Uploads at the end of a run are the last step of
// hours of conversion work, so transient store errors are worth riding out.
type ResilientBackend struct {
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger

	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// ResilientConfig holds retry and circuit breaker settings.
type ResilientConfig struct {
	MaxFailures         int
	Timeout             time.Duration
	HalfOpenMaxRequests int

	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultResilientConfig returns the default retry policy.
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
	}
}

// NewResilientBackend wraps backend. A nil cfg uses the defaults.
func NewResilientBackend(backend Backend, cfg *ResilientConfig, logger zerolog.Logger) *ResilientBackend {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}

	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:                "storage",
		MaxFailures:         cfg.MaxFailures,
		Timeout:             cfg.Timeout,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
	}, logger)

	return &ResilientBackend{
		backend:       backend,
		cb:            cb,
		logger:        logger.With().Str("component", "resilient-storage").Logger(),
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

// retry runs op under the circuit breaker, backing off between attempts.
// Circuit-open and context errors abort immediately.
func (r *ResilientBackend) retry(ctx context.Context, what, path string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.cb.Execute(op)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			r.logger.Warn().
				Str("path", path).
				Str("op", what).
				Msg("Storage request rejected, circuit breaker open")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.retryDelay * time.Duration(1<<uint(attempt))
		if delay > r.retryMaxDelay {
			delay = r.retryMaxDelay
		}

		r.logger.Warn().
			Err(err).
			Str("path", path).
			Str("op", what).
			Int("attempt", attempt+1).
			Int("max_retries", r.maxRetries).
			Dur("retry_delay", delay).
			Msg("Storage operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("storage %s failed after %d retries: %w", what, r.maxRetries, lastErr)
}

func (r *ResilientBackend) Write(ctx context.Context, path string, data []byte) error {
	return r.retry(ctx, "write", path, func() error {
		return r.backend.Write(ctx, path, data)
	})
}

// WriteReader is not retried: the reader may have been partially consumed by
// a failed attempt, so a retry would upload a truncated artifact.
func (r *ResilientBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	return r.cb.Execute(func() error {
		return r.backend.WriteReader(ctx, path, reader, size)
	})
}

func (r *ResilientBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.retry(ctx, "read", path, func() error {
		var readErr error
		data, readErr = r.backend.Read(ctx, path)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *ResilientBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.retry(ctx, "list", prefix, func() error {
		var listErr error
		keys, listErr = r.backend.List(ctx, prefix)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *ResilientBackend) Delete(ctx context.Context, path string) error {
	return r.retry(ctx, "delete", path, func() error {
		return r.backend.Delete(ctx, path)
	})
}

func (r *ResilientBackend) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := r.retry(ctx, "exists", path, func() error {
		var existsErr error
		exists, existsErr = r.backend.Exists(ctx, path)
		return existsErr
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ResilientBackend) Close() error {
	return r.backend.Close()
}

func (r *ResilientBackend) Type() string {
	return r.backend.Type()
}

// IsCircuitOpen reports whether the circuit breaker is currently open.
func (r *ResilientBackend) IsCircuitOpen() bool {
	return r.cb.IsOpen()
}
