// Package notify carries user-facing messages about collection operations.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Level is the severity a toast is shown with.
type Level string

// Levels.
const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event identifies what happened.
type Event string

// Events.
const (
	EventAdded      Event = "added"
	EventUpdated    Event = "updated"
	EventRemoved    Event = "removed"
	EventCleared    Event = "cleared"
	EventTruncated  Event = "truncated"
	EventRejected   Event = "rejected"
	EventUnchanged  Event = "unchanged"
	EventSyncFailed Event = "sync_failed"
	EventMerged     Event = "merged"
)

// Notification is one human-readable message plus the facts behind it.
type Notification struct {
	Kind      model.Kind
	Event     Event
	Level     Level
	ProductID string
	Message   string
	Err       error
}

// Notifier receives notifications. Implementations must be safe for concurrent use:
// sync failures are reported from background tasks.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(n Notification)

// Notify calls f(n).
func (f Func) Notify(n Notification) { f(n) }

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(Notification) {}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify forwards n to every notifier in order.
func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}

// Logger writes notifications to a zap logger at a level matching the toast.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a Logger notifier.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// Notify logs n.
func (l *Logger) Notify(n Notification) {
	fields := []zap.Field{
		zap.String("collection", string(n.Kind)),
		zap.String("event", string(n.Event)),
	}
	if n.ProductID != "" {
		fields = append(fields, zap.String("product_id", n.ProductID))
	}
	if n.Err != nil {
		fields = append(fields, zap.Error(n.Err))
	}

	switch n.Level {
	case LevelError:
		l.logger.Error(n.Message, fields...)
	case LevelWarning:
		l.logger.Warn(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, n.Event)
	}
	return out
}

// Find returns the recorded notifications for event.
func (r *Recorder) Find(event Event) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Notification
	for _, n := range r.items {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

// Drain returns the recorded notifications and forgets them.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.items
	r.items = nil
	return out
}
