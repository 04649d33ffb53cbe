package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/loggy"
)

// Monitor polls a Prober and notifies subscribers when the connectivity
// state changes. Notifications are debounced so a flapping link does not
// trigger a burst of sync attempts.
type Monitor struct {
	prober       Prober
	pollInterval time.Duration
	debounce     time.Duration
	logger       *loggy.Logger

	mu          sync.Mutex
	current     State
	hasCurrent  bool
	lastNotify  time.Time
	subscribers map[int]func(State)
	nextSubID   int
}

// NewMonitor creates a monitor over the given prober
func NewMonitor(prober Prober, pollInterval, debounce time.Duration, logger *loggy.Logger) *Monitor {
	return &Monitor{
		prober:       prober,
		pollInterval: pollInterval,
		debounce:     debounce,
		logger:       logger,
		subscribers:  make(map[int]func(State)),
	}
}

// Fetch probes the current connectivity state and records it. Callers that
// need a fresh answer (e.g. the orchestrator re-checking a stale trigger)
// use this instead of the cached state.
func (m *Monitor) Fetch(ctx context.Context) (State, error) {
	state, err := ProbeWithRetry(ctx, m.prober, m.logger)
	if err != nil {
		return state, err
	}

	m.mu.Lock()
	m.current = state
	m.hasCurrent = true
	m.mu.Unlock()

	return state, nil
}

// Current returns the last observed state, if any
func (m *Monitor) Current() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.hasCurrent
}

// Subscribe registers a callback invoked on connectivity changes.
// The returned function unsubscribes; it is safe to call more than once.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Start runs the poll loop until the context is cancelled
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	// Establish an initial state before the first tick
	m.poll(ctx)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll probes once and notifies subscribers on a debounced state change
func (m *Monitor) poll(ctx context.Context) {
	state, err := ProbeWithRetry(ctx, m.prober, m.logger)
	if err != nil {
		return
	}

	m.mu.Lock()
	changed := !m.hasCurrent || state != m.current
	m.current = state
	m.hasCurrent = true

	if !changed {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(m.lastNotify) < m.debounce {
		// Suppress this notification; the next poll re-delivers the
		// state if the change persists
		m.mu.Unlock()
		return
	}
	m.lastNotify = now

	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed",
		"connected", state.Connected,
		"reachable", state.InternetReachable.String(),
	)

	for _, fn := range subs {
		fn(state)
	}
}
