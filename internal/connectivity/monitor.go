// Package connectivity tracks whether the remote API is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/crafttrack/internal/logging"
)

// DefaultInterval is the probe period when none is configured.
const DefaultInterval = 30 * time.Second

// Prober checks reachability. A nil error means online.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor probes the remote periodically and reports transitions.
type Monitor struct {
	prober   Prober
	onChange func(online bool)
	interval time.Duration

	mu     sync.Mutex
	known  bool
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor. onChange is called with the new state on
// every transition, including the first probe.
func NewMonitor(prober Prober, onChange func(online bool), interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{prober: prober, onChange: onChange, interval: interval}
}

// Check probes once and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Health(ctx)
	online := err == nil

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if changed {
		fields := map[string]interface{}{"online": online}
		if err != nil {
			fields["error"] = err.Error()
		}
		logging.Info("Connectivity changed", fields)
		if m.onChange != nil {
			m.onChange(online)
		}
	}
	return online
}

// Online returns the last observed state; false before the first probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// Start probes immediately and then on every interval until Stop or ctx is
// done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.Check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop ends probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
