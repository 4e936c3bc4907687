package queue

import "sync"

// Notifier fans out insert notifications so the executor can drain
// immediately instead of waiting for its next poll tick. Delivery is
// best-effort: a subscriber with a full buffer misses the nudge and
// catches the action on the poll fallback instead.
type Notifier struct {
	mu   sync.Mutex
	subs []chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a wake-up channel. The returned function removes
// the subscription.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	remove := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s == ch {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
	return ch, remove
}

// Notify nudges all subscribers without blocking.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
