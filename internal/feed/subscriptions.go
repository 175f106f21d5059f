package feed

import (
	"sync"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// SubscriptionRegistry reference-counts feed subscriptions per instrument.
// Several trades can watch the same scrip; the wire subscription is activated
// on the first interest and released on the last.
type SubscriptionRegistry struct {
	mu     sync.Mutex
	counts map[domain.InstrumentKey]int
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		counts: make(map[domain.InstrumentKey]int),
	}
}

// Add increments the reference count for key and reports whether this was the
// first interest, i.e. whether the caller must activate the wire subscription.
func (r *SubscriptionRegistry) Add(key domain.InstrumentKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[key]++
	return r.counts[key] == 1
}

// Remove decrements the reference count for key and reports whether the last
// interest went away, i.e. whether the caller must release the wire
// subscription. Removing an untracked key is a no-op; counts never go
// negative.
func (r *SubscriptionRegistry) Remove(key domain.InstrumentKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.counts, key)
		return true
	}
	r.counts[key] = n - 1
	return false
}

// Active returns a snapshot of every instrument with at least one subscriber.
func (r *SubscriptionRegistry) Active() []domain.InstrumentKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.InstrumentKey, 0, len(r.counts))
	for key := range r.counts {
		out = append(out, key)
	}
	return out
}

// Count returns the current reference count for key.
func (r *SubscriptionRegistry) Count(key domain.InstrumentKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}
