// Package connectivity tracks the host platform's online/offline signal and
// turns state changes into transition edges for the rest of the core.
package connectivity

import (
	"sync"

	"github.com/sokoniapp/sokoni-core/internal/logging"
)

// Listener receives the new online state on every transition edge. It is
// called exactly once per transition, never for a repeated state.
type Listener func(online bool)

// Monitor holds the current connectivity flag. The host platform feeds it
// through SetOnline; the queue and the sampler read it.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners map[int]Listener
	nextID    int
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:    online,
		listeners: make(map[int]Listener),
	}
}

// IsOnline reports the current connectivity flag.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records the host's connectivity state. Listeners fire only on
// an actual transition; setting the same state twice is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	snapshot := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		snapshot = append(snapshot, l)
	}
	m.mu.Unlock()

	logging.L().Info().Bool(logging.FieldOnline, online).Msg("connectivity changed")

	for _, l := range snapshot {
		l(online)
	}
}

// Subscribe registers a transition listener and returns its ID.
func (m *Monitor) Subscribe(l Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.listeners[m.nextID] = l
	return m.nextID
}

// Unsubscribe removes a listener. Unknown IDs are ignored.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.listeners, id)
}
