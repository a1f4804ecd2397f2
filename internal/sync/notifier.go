package sync

import (
	stdsync "sync"

	"github.com/njoerd114/coursecal/internal/model"
)

// Transition is one sync-state change for one course, as broadcast by the
// Notifier.
type Transition struct {
	CourseID string
	State    model.SyncState
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind than this misses events; it can always re-derive the
// current state from the store.
const subscriberBuffer = 16

// Notifier is an in-process broadcast channel of sync-state transitions.
// Publish never blocks: slow subscribers drop events instead of stalling a
// reconciliation. The zero value is not usable; create one with NewNotifier.
type Notifier struct {
	mu     stdsync.Mutex
	nextID int
	subs   map[int]chan Transition
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Transition)}
}

// Subscribe registers a new subscriber and returns its receive channel plus a
// cancel function. Cancelling closes the channel and stops delivery.
func (n *Notifier) Subscribe() (<-chan Transition, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Transition, subscriberBuffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish broadcasts a transition to all current subscribers without
// blocking.
func (n *Notifier) Publish(t Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- t:
		default:
			// Subscriber is full; it will re-derive state on demand.
		}
	}
}
