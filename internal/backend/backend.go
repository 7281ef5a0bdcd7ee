package backend

import (
	"net/http/httputil"
	"net/url"
	"sync"
)

// DesiredState is what the supervisor wants a backend to be doing.
type DesiredState string

const (
	DesiredUp   DesiredState = "up"
	DesiredDown DesiredState = "down"
)

// Health is the prober's view of a backend. A backend starts out unknown and
// becomes selectable only after its first successful probe.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Backend identifies one worker process. Desired state is mutated only by the
// supervisor, observed health only through the pool manager; both are guarded
// by the handle's mutex.
type Backend struct {
	id      string
	url     *url.URL
	proxy   *httputil.ReverseProxy
	mutex   sync.Mutex
	desired DesiredState
	health  Health
}

// New creates a handle for the worker reachable at url. The handle starts
// desired-down with unknown health.
func New(id string, url *url.URL) *Backend {
	return &Backend{
		id:      id,
		url:     url,
		proxy:   httputil.NewSingleHostReverseProxy(url),
		desired: DesiredDown,
		health:  HealthUnknown,
	}
}

// ID returns the backend's identifier, which is also the container name used
// with the runtime.
func (b *Backend) ID() string {
	return b.id
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Address returns the host:port the backend serves on.
func (b *Backend) Address() string {
	return b.url.Host
}

// ReverseProxy returns the HTTP reverse proxy for this backend.
func (b *Backend) ReverseProxy() *httputil.ReverseProxy {
	return b.proxy
}

// Health returns the currently observed health.
func (b *Backend) Health() Health {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.health
}

// SetHealth updates the observed health.
// Returns true if the value changed, false if it was already in that state.
func (b *Backend) SetHealth(health Health) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.health == health {
		return false
	}

	b.health = health
	return true
}

// Desired returns the supervisor's desired state for this backend.
func (b *Backend) Desired() DesiredState {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.desired
}

// SetDesired updates the desired state.
func (b *Backend) SetDesired(state DesiredState) {
	b.mutex.Lock()
	b.desired = state
	b.mutex.Unlock()
}
