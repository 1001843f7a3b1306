// Package netmon tracks whether the sync service is reachable and tells
// subscribers when that changes.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/logging"
	"github.com/dmitrijs2005/churchkeeper/internal/notify"
)

type State string

const (
	Offline State = "offline"
	Online  State = "online"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor starts Offline until the first probe. Reachability is decided by
// pinging the server; hosts with their own connectivity signal may push it
// with Set.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	mu    sync.RWMutex
	state State

	listeners notify.Listeners[State]
}

func New(p Pinger, interval, timeout time.Duration, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("module", "netmon"),
		state:    Offline,
	}
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// OnChange registers fn to be called with the new state on every
// transition. Listeners run on the goroutine that observed the change.
func (m *Monitor) OnChange(fn func(State)) (unsubscribe func()) {
	return m.listeners.Add(fn)
}

// Set records s and notifies listeners if it differs from the current state.
func (m *Monitor) Set(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.logger.Info(context.Background(), "switched mode", "mode", string(s))
	m.listeners.Emit(s)
}

// Probe pings the server once and records the outcome.
func (m *Monitor) Probe(ctx context.Context) State {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	s := Online
	if err := m.pinger.Ping(ctx); err != nil {
		m.logger.Debug(ctx, "ping failed", "error", err)
		s = Offline
	}
	m.Set(s)
	return s
}

// Start probes immediately and then on every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
