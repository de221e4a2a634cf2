// Package scheduler runs periodic queue drains independent of user
// actions, the background counterpart to the reachability edge trigger.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
	syncpkg "github.com/ebdtools/attendsync/internal/sync"
)

// Engine is the drain entry point the scheduler invokes.
type Engine interface {
	Drain(ctx context.Context) (*syncpkg.DrainReport, error)
}

// OnlineChecker reports current reachability; drains are skipped offline.
type OnlineChecker interface {
	IsOnline() bool
}

// Config holds scheduler configuration.
type Config struct {
	// Interval between drain attempts while online (default: 30 seconds).
	Interval time.Duration
	// DrainTimeout bounds a single background drain pass.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		DrainTimeout: 5 * time.Minute,
	}
}

// Scheduler triggers drains on a fixed interval whenever the client is
// online. A failing drain is logged and retried on the next tick.
type Scheduler struct {
	engine   Engine
	online   OnlineChecker
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	isRunning bool
	lastDrain time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler. A zero-value config falls back to defaults.
func New(engine Engine, online OnlineChecker, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Minute
	}
	return &Scheduler{
		engine:   engine,
		online:   online,
		interval: cfg.Interval,
		timeout:  cfg.DrainTimeout,
	}
}

// Start starts the background drain loop. A stopped scheduler can be
// started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop stops the loop gracefully and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if s.online != nil && !s.online.IsOnline() {
				continue
			}
			s.runDrain(ctx)
		}
	}
}

// runDrain executes one bounded drain pass. Every failure mode is logged
// and the loop continues on the next tick.
func (s *Scheduler) runDrain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := s.engine.Drain(drainCtx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDrainInProgress) || apperrors.Is(err, apperrors.ErrLeaseHeld) {
			logging.Debug("Periodic drain skipped, drain already running", nil)
			return
		}
		logging.Error("Periodic drain failed", err, nil)
		return
	}

	s.mu.Lock()
	s.lastDrain = time.Now()
	s.mu.Unlock()

	if report.Attempted > 0 || report.Parked > 0 {
		logging.Info("Periodic drain completed",
			map[string]interface{}{
				"succeeded": report.Succeeded,
				"failed":    report.Failed,
				"skipped":   report.Skipped,
				"parked":    report.Parked,
			})
	}
}

// TriggerNow runs a drain immediately, outside the tick schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runDrain(ctx)
}

// Status describes the scheduler for status displays.
type Status struct {
	IsRunning bool
	LastDrain *time.Time
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{IsRunning: s.isRunning}
	if !s.lastDrain.IsZero() {
		t := s.lastDrain
		st.LastDrain = &t
	}
	return st
}
