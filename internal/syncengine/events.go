package syncengine

import (
	"sync"
	"time"
)

// Event is delivered to subscribers after every sync attempt — including
// empty and failed ones, so a UI can reflect "last checked" even when
// nothing changed.
type Event struct {
	Result Result
	Stats  Cursor
	At     time.Time
}

// Notifier is a typed subscriber registry with explicit unsubscribe
// semantics, so the two background drivers cannot leak subscriptions across
// each other. Safe for concurrent use.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

// NewNotifier creates an empty registry.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its unsubscribe function. Calling the
// returned function more than once is harmless.
func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		delete(n.subs, id)
	}
}

// Publish delivers ev to every subscriber. Callbacks run synchronously on
// the publishing goroutine, outside the registry lock so a callback may
// unsubscribe itself.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.subs))

	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
