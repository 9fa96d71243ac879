// Package authsignal carries authentication transitions to whoever listens.
//
// A Bus is constructed once per application and handed to every consumer that
// needs to react to LOGIN or LOGOUT. Delivery is synchronous: Emit returns after
// every listener registered at the time of the call has run.
package authsignal

import (
	"sync"

	"go.uber.org/zap"
)

// Kind is an authentication event kind.
type Kind string

// Event kinds.
const (
	Login  Kind = "login"
	Logout Kind = "logout"
)

// Listener receives the payload passed to Emit. For Login it is a *model.User.
type Listener func(payload any)

type subscription struct {
	id int
	fn Listener
}

// Bus is a process-local publish/subscribe channel for authentication events.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Kind][]subscription
	logger    *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bus{
		listeners: make(map[Kind][]subscription),
		logger:    logger,
	}
}

// On registers fn for kind and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) On(kind Kind, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

// Emit delivers payload to the listeners registered for kind, in registration order.
// The bus lock is not held while listeners run, so a listener may itself call On,
// the unsubscribe function, or Emit. Nested emits are delivered immediately and are
// not deduplicated.
func (b *Bus) Emit(kind Kind, payload any) {
	b.mu.Lock()
	subs := make([]subscription, len(b.listeners[kind]))
	copy(subs, b.listeners[kind])
	b.mu.Unlock()

	b.logger.Debug("auth signal",
		zap.String("kind", string(kind)),
		zap.Int("listeners", len(subs)),
	)

	for _, s := range subs {
		s.fn(payload)
	}
}

// Listeners returns the number of listeners currently registered for kind.
func (b *Bus) Listeners(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners[kind])
}

func (b *Bus) remove(kind Kind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.listeners[kind]
	for i, s := range subs {
		if s.id == id {
			b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
