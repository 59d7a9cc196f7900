package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Clock supplies wall-clock time to the daemon. The core never reads time
// itself; injecting the clock keeps maintenance cycles deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// DaemonConfig holds configuration for the maintenance daemon.
type DaemonConfig struct {
	// CheckInterval is how often the daemon runs a maintenance cycle.
	CheckInterval time.Duration

	// LookaheadPeriods is how many periods ahead of the current period the
	// frontier is kept.
	LookaheadPeriods int

	// Retention is the retention policy to enforce. A zero horizon disables
	// retention.
	Retention types.RetentionPolicy
}

// DefaultDaemonConfig returns the default maintenance configuration:
// hourly cycles, two periods of lookahead, no retention.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		CheckInterval:    time.Hour,
		LookaheadPeriods: 2,
	}
}

// Daemon periodically advances the frontier and enforces retention. All
// mutation flows through the manager, so daemon cycles serialize with manual
// operations.
type Daemon struct {
	config  DaemonConfig
	manager *Manager
	keys    types.TimeKeySpace
	unit    types.PeriodUnit
	clock   Clock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a maintenance daemon over a time-keyed catalog.
func NewDaemon(config DaemonConfig, manager *Manager, keys types.TimeKeySpace, unit types.PeriodUnit, clock Clock) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Daemon{
		config:  config,
		manager: manager,
		keys:    keys,
		unit:    unit,
		clock:   clock,
	}
}

// Start begins the maintenance loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("lifecycle: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the maintenance daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// run is the main maintenance loop.
func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.RunOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance cycle: advance the frontier, then
// enforce retention. Failures are logged and do not halt the daemon.
func (d *Daemon) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := d.clock.Now()
	periodStart := d.keys.TruncatePeriod(now, d.unit)

	created, err := d.manager.EnsureFrontier(ctx, periodStart, d.config.LookaheadPeriods)
	if err != nil {
		log.Printf("lifecycle: frontier advance failed: %v", err)
	} else if len(created) > 0 {
		log.Printf("lifecycle: created %d frontier partition(s): %v", len(created), created)
	}

	if ctx.Err() != nil || d.config.Retention.Horizon <= 0 {
		return
	}

	retired, err := d.manager.ApplyRetention(ctx, periodStart, d.config.Retention)
	if err != nil {
		log.Printf("lifecycle: retention failed: %v", err)
	} else if len(retired) > 0 {
		log.Printf("lifecycle: retired %d partition(s) past retention horizon: %v", len(retired), retired)
	}
}
