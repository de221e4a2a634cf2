// Package netmon tracks host network reachability and triggers queue
// drains on the offline-to-online edge.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	apperrors "github.com/ebdtools/attendsync/internal/errors"
	"github.com/ebdtools/attendsync/internal/logging"
)

// Source reports the host platform's own connectivity indicator. It must
// not probe remote endpoints; captive-portal false positives are accepted
// looseness for this domain.
type Source interface {
	Online() bool
}

// InterfaceSource is the default Source: the host counts as online when
// any non-loopback interface is up with an assigned address.
type InterfaceSource struct{}

// Online implements Source.
func (InterfaceSource) Online() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true
	}
	return false
}

// DrainFunc is the sync engine's drain entry point.
type DrainFunc func(ctx context.Context) error

// Monitor polls a Source and emits edge-triggered transitions. Each
// offline-to-online edge invokes the drain exactly once; staying online
// across polls never re-triggers it.
type Monitor struct {
	source   Source
	interval time.Duration
	drain    DrainFunc

	mu       sync.RWMutex
	online   bool
	running  bool
	onChange []func(online bool)
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a Monitor over the given source. A zero interval
// defaults to 5 seconds.
func NewMonitor(source Source, interval time.Duration, drain DrainFunc) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		source:   source,
		interval: interval,
		drain:    drain,
	}
}

// OnChange registers a callback fired on every reachability edge, after
// the monitor's own handling. Used for user-facing notifications.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// IsOnline returns the last observed reachability.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Start begins polling. The initial state is read synchronously so
// IsOnline is meaningful immediately; it does not count as an edge.
// A stopped monitor can be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.online = m.source.Online()
	initial := m.online
	m.mu.Unlock()

	logging.Info("Reachability monitor started",
		map[string]interface{}{"online": initial})

	m.wg.Add(1)
	go m.loop(ctx, stopCh)
}

// Stop stops polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.observe(ctx, m.source.Online())
		}
	}
}

// SetOnline feeds an externally observed state, for platform integrations
// that push connectivity events instead of being polled.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.observe(ctx, online)
}

// observe compares the observed state against the last one and handles
// the edge if they differ.
func (m *Monitor) observe(ctx context.Context, online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	callbacks := make([]func(bool), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	if online {
		logging.Info("Network became online, syncing pending data", nil)
		m.runDrain(ctx)
	} else {
		logging.Warn("Network became offline, writes will queue locally", nil)
	}

	for _, fn := range callbacks {
		fn(online)
	}
}

// runDrain invokes the drain once for this edge. An in-progress or
// lease-held result means another context is already draining, which
// satisfies the edge trigger.
func (m *Monitor) runDrain(ctx context.Context) {
	if m.drain == nil {
		return
	}
	if err := m.drain(ctx); err != nil {
		if apperrors.Is(err, apperrors.ErrDrainInProgress) || apperrors.Is(err, apperrors.ErrLeaseHeld) {
			logging.Debug("Drain already running, edge trigger satisfied", nil)
			return
		}
		logging.Error("Drain after reconnect failed", err, nil)
	}
}
