package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/angeloszaimis/poold/internal/backend"
)

// ErrNoHealthyBackend is returned by Select when no backend is currently
// selectable. The router fails closed on it.
var ErrNoHealthyBackend = errors.New("no healthy backend")

// Status is a read-only view of one backend, safe to hand to renderers.
type Status struct {
	ID      string               `json:"id"`
	Address string               `json:"address"`
	Desired backend.DesiredState `json:"desired"`
	Health  backend.Health       `json:"health"`
}

// Manager owns the ordered backend set. The cursor scans the full list so a
// backend that recovers resumes its slot in the rotation.
type Manager struct {
	mutex    sync.Mutex
	backends []*backend.Backend
	byID     map[string]*backend.Backend
	cursor   int
}

func NewManager() *Manager {
	return &Manager{
		byID: make(map[string]*backend.Backend),
	}
}

// Register adds a backend to the pool. Ids must be unique.
func (m *Manager) Register(b *backend.Backend) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.byID[b.ID()]; exists {
		return fmt.Errorf("backend %q already registered", b.ID())
	}

	m.backends = append(m.backends, b)
	m.byID[b.ID()] = b
	return nil
}

// Mark records a probe verdict for a backend.
// Returns true if the observed health changed.
func (m *Manager) Mark(id string, healthy bool) (changed bool, err error) {
	m.mutex.Lock()
	b, ok := m.byID[id]
	m.mutex.Unlock()

	if !ok {
		return false, fmt.Errorf("unknown backend %q", id)
	}

	health := backend.HealthUnhealthy
	if healthy {
		health = backend.HealthHealthy
	}

	return b.SetHealth(health), nil
}

// Select returns the next healthy backend in round-robin order, advancing the
// cursor. With no healthy backend it returns ErrNoHealthyBackend; selection
// never mutates health state.
func (m *Manager) Select() (*backend.Backend, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	n := len(m.backends)
	if n == 0 {
		return nil, ErrNoHealthyBackend
	}

	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		b := m.backends[idx]

		if b.Health() == backend.HealthHealthy {
			m.cursor = (idx + 1) % n
			return b, nil
		}
	}

	return nil, ErrNoHealthyBackend
}

// Backends returns the registered backends in registration order.
func (m *Manager) Backends() []*backend.Backend {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]*backend.Backend, len(m.backends))
	copy(out, m.backends)
	return out
}

// HealthyCount returns the number of currently healthy backends.
func (m *Manager) HealthyCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	count := 0
	for _, b := range m.backends {
		if b.Health() == backend.HealthHealthy {
			count++
		}
	}

	return count
}

// Snapshot returns a per-backend status view in registration order.
func (m *Manager) Snapshot() []Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	statuses := make([]Status, 0, len(m.backends))
	for _, b := range m.backends {
		statuses = append(statuses, Status{
			ID:      b.ID(),
			Address: b.Address(),
			Desired: b.Desired(),
			Health:  b.Health(),
		})
	}

	return statuses
}
