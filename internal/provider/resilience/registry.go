package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Condition summarizes an upstream for the ops status endpoint.
type Condition string

const (
	ConditionUp       Condition = "UP"
	ConditionProbing  Condition = "PROBING"
	ConditionDown     Condition = "DOWN"
	ConditionUnproven Condition = "UNPROVEN"
)

// Health is a point-in-time view of one upstream.
type Health struct {
	Name          string
	State         gobreaker.State
	Counts        gobreaker.Counts
	Trips         int
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Condition maps the breaker state to a condition. A closed breaker that has
// never completed a call is UNPROVEN; one whose latest call failed still
// counts as UP until the breaker trips.
func (h Health) Condition() Condition {
	switch h.State {
	case gobreaker.StateOpen:
		return ConditionDown
	case gobreaker.StateHalfOpen:
		return ConditionProbing
	}
	if h.LastSuccessAt == nil && h.LastFailureAt == nil {
		return ConditionUnproven
	}
	return ConditionUp
}

// Registry tracks the upstream clients of one process.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream
}

type upstream struct {
	client        *Client
	trips         int
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{upstreams: make(map[string]*upstream)}
}

func (r *Registry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstreams[c.Name()] = &upstream{client: c}
}

func (r *Registry) succeeded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[name]; ok {
		now := time.Now()
		u.lastSuccessAt = &now
	}
}

func (r *Registry) failed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[name]; ok {
		now := time.Now()
		u.lastFailureAt = &now
		u.lastError = err.Error()
	}
}

// tripped runs inside the breaker's state change callback.
func (r *Registry) tripped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[name]; ok {
		u.trips++
	}
}

// Get returns the health of one upstream.
func (r *Registry) Get(name string) (Health, bool) {
	r.mu.RLock()
	u, ok := r.upstreams[name]
	var h Health
	if ok {
		h = u.snapshot(name)
	}
	r.mu.RUnlock()
	if !ok {
		return Health{}, false
	}
	// Breaker state is read without the registry lock: the breaker calls
	// tripped while holding its own lock.
	h.State, h.Counts = u.client.State(), u.client.Counts()
	return h, true
}

// All returns the health of every upstream sorted by name.
func (r *Registry) All() []Health {
	r.mu.RLock()
	out := make([]Health, 0, len(r.upstreams))
	clients := make([]*Client, 0, len(r.upstreams))
	for name, u := range r.upstreams {
		out = append(out, u.snapshot(name))
		clients = append(clients, u.client)
	}
	r.mu.RUnlock()

	for i, c := range clients {
		out[i].State, out[i].Counts = c.State(), c.Counts()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of tracked upstreams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.upstreams)
}

func (u *upstream) snapshot(name string) Health {
	return Health{
		Name:          name,
		Trips:         u.trips,
		LastSuccessAt: u.lastSuccessAt,
		LastFailureAt: u.lastFailureAt,
		LastError:     u.lastError,
	}
}
