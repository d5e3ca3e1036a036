package airquality

import (
	"sync"
)

// HealthState tracks whether the last remote refresh succeeded.
// Observers are called on transitions only, outside the state lock, one
// transition at a time and in the order the transitions happened. An
// observer may read Healthy but must not mark the state itself.
type HealthState struct {
	notify    sync.Mutex
	mu        sync.Mutex
	healthy   bool
	nextID    int
	observers map[int]func(healthy bool)
}

// NewHealthState returns a state that starts healthy.
func NewHealthState() *HealthState {
	return &HealthState{
		healthy:   true,
		observers: make(map[int]func(bool)),
	}
}

// Healthy reports the current connection health.
func (h *HealthState) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// Subscribe registers fn for health transitions and returns a function removing it.
func (h *HealthState) Subscribe(fn func(healthy bool)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}
}

// MarkHealthy records a successful refresh.
func (h *HealthState) MarkHealthy() { h.set(true) }

// MarkUnhealthy records a connectivity failure.
func (h *HealthState) MarkUnhealthy() { h.set(false) }

func (h *HealthState) set(healthy bool) {
	h.notify.Lock()
	defer h.notify.Unlock()

	h.mu.Lock()
	if h.healthy == healthy {
		h.mu.Unlock()
		return
	}
	h.healthy = healthy
	observers := make([]func(bool), 0, len(h.observers))
	for _, fn := range h.observers {
		observers = append(observers, fn)
	}
	h.mu.Unlock()

	for _, fn := range observers {
		fn(healthy)
	}
}
