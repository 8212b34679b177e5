package device

import "sync"

// EventListener fans a device event out to subscribers. It is safe to
// Trigger from interrupt context while other goroutines Subscribe.
type EventListener struct {
	mu   sync.Mutex
	subs []subscriber
}

type subscriber struct {
	fn   func()
	once bool
}

// Subscribe registers fn. A once subscriber is dropped after its first call.
func (l *EventListener) Subscribe(fn func(), once bool) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, subscriber{fn: fn, once: once})
}

// Trigger runs every subscriber outside the lock.
func (l *EventListener) Trigger() {
	l.mu.Lock()
	pending := make([]func(), 0, len(l.subs))
	kept := l.subs[:0]
	for _, s := range l.subs {
		pending = append(pending, s.fn)
		if !s.once {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(l.subs); i++ {
		l.subs[i] = subscriber{}
	}
	l.subs = kept
	l.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
