package agent

import "sync"

// Router maps each userId to a stable *Actor instance, lazily creating one
// on first use. It is the "sharded in-memory map of userId -> actor"
// described in the durable-objects design note; the per-actor mutex
// (embedded in Actor itself) gives the single-writer guarantee, not this
// map's lock, which only protects actor creation/lookup.
type Router struct {
	mu      sync.Mutex
	actors  map[string]*Actor
	factory func(userID string) *Actor
}

// NewRouter builds a Router. newActor constructs a fresh Actor for a userID
// seen for the first time; it must not block on network I/O — lazy state
// hydration happens inside HandleChat instead.
func NewRouter(newActor func(userID string) *Actor) *Router {
	return &Router{
		actors:  make(map[string]*Actor),
		factory: newActor,
	}
}

// Get returns the actor for userID, creating it if this is the first
// request seen for that user.
func (r *Router) Get(userID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[userID]; ok {
		return a
	}
	a := r.factory(userID)
	r.actors[userID] = a
	return a
}

// Count returns the number of actors currently resident in memory.
// Exposed for diagnostics/tests only.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
