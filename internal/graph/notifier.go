package graph

import (
	"sync"

	"github.com/roach88/graphwriter/internal/model"
)

// Notifier fans committed-mutation notifications out to subscribers.
//
// Thread-safety: all methods are safe for concurrent use. Subscribers are
// called synchronously on the publishing goroutine and must not block.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(model.Notification)
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(model.Notification))}
}

// Subscribe registers fn. The returned func removes it and may be called
// any number of times.
func (n *Notifier) Subscribe(fn func(model.Notification)) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Publish delivers note to every current subscriber.
func (n *Notifier) Publish(note model.Notification) {
	n.mu.RLock()
	fns := make([]func(model.Notification), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(note)
	}
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
