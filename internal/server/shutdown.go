// Package server coordinates graceful teardown: an in-flight request gate
// for the admin API and LIFO cleanup of registered resources.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownConfig bounds how long teardown may take.
type ShutdownConfig struct {
	// DrainTimeout bounds the wait for in-flight requests. Zero means 15s.
	DrainTimeout time.Duration
}

// ShutdownManager gates incoming requests during teardown and closes
// registered resources in reverse registration order.
type ShutdownManager struct {
	drainTimeout time.Duration

	draining int32
	inFlight int64
	once     sync.Once

	mu      sync.Mutex
	closers []io.Closer
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	return &ShutdownManager{drainTimeout: cfg.DrainTimeout}
}

// RegisterCloser adds a resource to close during teardown. Resources are
// closed last-in first-out, so register in dependency order.
func (m *ShutdownManager) RegisterCloser(c io.Closer) {
	m.mu.Lock()
	m.closers = append(m.closers, c)
	m.mu.Unlock()
}

// Shutdown rejects new requests, waits for in-flight requests to finish up
// to the drain timeout, then closes registered resources. Subsequent calls
// are no-ops returning nil.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	var firstErr error
	m.once.Do(func() {
		atomic.StoreInt32(&m.draining, 1)

		firstErr = m.drain(ctx)

		m.mu.Lock()
		closers := m.closers
		m.closers = nil
		m.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (m *ShutdownManager) drain(ctx context.Context) error {
	deadline := time.NewTimer(m.drainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for atomic.LoadInt64(&m.inFlight) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("server: drain timed out with %d request(s) in flight",
				atomic.LoadInt64(&m.inFlight))
		case <-tick.C:
		}
	}
	return nil
}

// Draining reports whether teardown has begun.
func (m *ShutdownManager) Draining() bool {
	return atomic.LoadInt32(&m.draining) == 1
}

// ShutdownMiddleware admits requests through the teardown gate. Requests
// arriving after teardown begins receive 503 with Connection: close.
func ShutdownMiddleware(m *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Draining() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service shutting down", http.StatusServiceUnavailable)
				return
			}
			atomic.AddInt64(&m.inFlight, 1)
			defer atomic.AddInt64(&m.inFlight, -1)
			next.ServeHTTP(w, r)
		})
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error { return f() }
