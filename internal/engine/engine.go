// Package engine keeps a shopper's cart or wishlist consistent between the
// client-local snapshot and the server-side record.
//
// Every mutation is applied to the in-memory collection first and is visible as
// soon as the call returns. Persistence follows the current mode:
//
//   - Anonymous: the whole collection is written to the local snapshot store
//     before the call returns.
//   - Authenticated: the matching collection-service call runs as a detached
//     background task. It is never cancelled by the caller and never retried;
//     a failure is reported to the notifier and the optimistic state is kept.
//
// Remote writes for the same product are not ordered with respect to each
// other. Two quick updates may reach the service in either order, and a slow
// earlier response is not reconciled against newer local state.
//
// A login starts a merge that reports Syncing until it completes. Mutations
// made in that window are sent to the service right away and are replayed on
// top of the merge result, so the local view keeps them. The server may still
// apply the merge after them; callers that need both sides to agree should
// Wait after login before mutating.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/authsignal"
	"github.com/vyrodovalexey/basket-sync/internal/collection"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/notify"
	"github.com/vyrodovalexey/basket-sync/internal/remote"
)

// DefaultRemoteTimeout bounds a single detached remote call.
const DefaultRemoteTimeout = 15 * time.Second

// Mode says which store is authoritative.
type Mode int

// Modes.
const (
	Anonymous Mode = iota
	Authenticated
)

func (m Mode) String() string {
	if m == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// LocalStore is the client-local snapshot storage.
type LocalStore[T any] interface {
	Load(key string) []T
	Save(key string, items []T) error
	Clear(key string) error
}

// RemoteStore is the server-side collection resource.
type RemoteStore[T any] interface {
	Fetch(ctx context.Context) ([]T, error)
	Replace(ctx context.Context, items []T) ([]T, error)
	UpsertItem(ctx context.Context, item T) error
	UpdateItemQuantity(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, productID string) error
	Clear(ctx context.Context) error
}

// Policy is what differs between collection kinds.
type Policy[T any] struct {
	Kind model.Kind
	// TracksQuantity enables quantities and stock clamping.
	TracksQuantity bool
	// FromProduct builds a new line from catalog data.
	FromProduct func(p model.Product, quantity int) T
}

// Deps are the collaborators an engine is wired with.
type Deps[T any] struct {
	Bus           *authsignal.Bus
	Local         LocalStore[T]
	Remote        RemoteStore[T]
	Notifier      notify.Notifier
	Logger        *zap.Logger
	RemoteTimeout time.Duration
	// User restores an existing session; nil starts anonymous.
	User *model.User
}

// Result describes what an operation did to the collection.
type Result struct {
	Quantity  int
	Truncated bool
	Changed   bool
}

// Snapshot is a read-only copy of the collection for consumers such as checkout.
type Snapshot[T any] struct {
	Items []T
	Count int
	Total decimal.Decimal
}

// Engine synchronizes one collection kind.
type Engine[T model.Line[T]] struct {
	policy   Policy[T]
	local    LocalStore[T]
	remote   RemoteStore[T]
	notifier notify.Notifier
	logger   *zap.Logger
	timeout  time.Duration

	mu    sync.Mutex
	items *collection.Collection[T]
	user  *model.User
	// epoch changes on every login and logout so a late merge can tell the
	// session it started in is gone.
	epoch uint64

	// overlay records lines touched while a login merge is in flight.
	overlay *mergeOverlay[T]

	tasks   *taskCounter
	merging atomic.Int32

	watchMu  sync.Mutex
	watchers map[int]func(Snapshot[T])
	nextID   int

	unsubscribe []func()
}

// New creates an engine for policy and subscribes it to deps.Bus.
func New[T model.Line[T]](policy Policy[T], deps Deps[T]) (*Engine[T], error) {
	if !policy.Kind.Valid() || policy.FromProduct == nil {
		return nil, ErrInvalidPolicy
	}
	if deps.Local == nil {
		return nil, ErrNoLocalStore
	}
	if deps.Remote == nil {
		return nil, ErrNoRemoteStore
	}

	e := &Engine[T]{
		policy:   policy,
		local:    deps.Local,
		remote:   deps.Remote,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		timeout:  deps.RemoteTimeout,
		items:    collection.New[T](nil),
		user:     deps.User,
		tasks:    newTaskCounter(),
		watchers: make(map[int]func(Snapshot[T])),
	}

	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("collection", string(policy.Kind)))
	if e.timeout <= 0 {
		e.timeout = DefaultRemoteTimeout
	}

	if deps.Bus != nil {
		e.unsubscribe = append(e.unsubscribe,
			deps.Bus.On(authsignal.Login, e.onLogin),
			deps.Bus.On(authsignal.Logout, e.onLogout),
		)
	}

	return e, nil
}

// Kind returns the collection kind.
func (e *Engine[T]) Kind() model.Kind {
	return e.policy.Kind
}

// Mode returns Authenticated while a user session is known.
func (e *Engine[T]) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.modeLocked()
}

func (e *Engine[T]) modeLocked() Mode {
	if e.user != nil {
		return Authenticated
	}
	return Anonymous
}

// User returns the session user, or nil when anonymous.
func (e *Engine[T]) User() *model.User {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.user
}

// Syncing reports whether a login merge is in flight.
func (e *Engine[T]) Syncing() bool {
	return e.merging.Load() > 0
}

// Load populates the collection from the authoritative store for the current mode.
func (e *Engine[T]) Load(ctx context.Context) error {
	e.mu.Lock()
	authenticated := e.modeLocked() == Authenticated
	epoch := e.epoch
	e.mu.Unlock()

	var items []T
	if authenticated {
		fetched, err := e.remote.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", e.policy.Kind, err)
		}
		items = fetched
	} else {
		items = e.local.Load(e.key())
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil
	}
	e.items.Reset(items)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.Debug("collection loaded",
		zap.Stringer("mode", modeOf(authenticated)),
		zap.Int("items", len(snap.Items)),
	)
	e.publish(snap)
	return nil
}

// Add puts quantity units of product into the collection.
func (e *Engine[T]) Add(product model.Product, quantity int) (Result, error) {
	name := product.DisplayName()

	if e.policy.TracksQuantity {
		if quantity < 1 {
			return e.reject("add", product.ProductID, ErrInvalidQuantity, "Quantity must be at least 1")
		}
		if product.Stock <= 0 {
			return e.reject("add", product.ProductID, ErrOutOfStock, fmt.Sprintf("%s is out of stock", name))
		}
	}

	var ch change[T]

	e.mu.Lock()
	existing, exists := e.items.Get(product.ProductID)
	switch {
	case exists && !e.policy.TracksQuantity:
		ch.result = Result{Quantity: existing.Units()}
		ch.note(notify.EventUnchanged, notify.LevelInfo, product.ProductID,
			fmt.Sprintf("%s is already in your %s", name, e.policy.Kind))

	case exists:
		quantity, truncated := collection.Clamp(existing.Units()+quantity, product.Stock)
		ch.result = Result{Quantity: quantity, Truncated: truncated}

		if quantity == existing.Units() {
			ch.note(notify.EventUnchanged, notify.LevelWarning, product.ProductID,
				fmt.Sprintf("%s is already at the maximum available quantity (%d)", name, quantity))
			break
		}

		e.items.Put(existing.WithUnits(quantity).WithStock(product.Stock))
		ch.result.Changed = true
		ch.note(notify.EventUpdated, notify.LevelSuccess, product.ProductID,
			fmt.Sprintf("Updated %s quantity in %s", name, e.policy.Kind))
		if truncated {
			ch.noteTruncated(product.ProductID, name, quantity)
		}
		ch.task = e.persistLocked(remote.OpUpdateQuantity, product.ProductID, func(ctx context.Context) error {
			return e.remote.UpdateItemQuantity(ctx, product.ProductID, quantity)
		})

	default:
		truncated := false
		if e.policy.TracksQuantity {
			quantity, truncated = collection.Clamp(quantity, product.Stock)
		} else {
			quantity = 1
		}
		item := e.policy.FromProduct(product, quantity)

		e.items.Put(item)
		ch.result = Result{Quantity: item.Units(), Truncated: truncated, Changed: true}
		ch.note(notify.EventAdded, notify.LevelSuccess, product.ProductID,
			fmt.Sprintf("Added %s to %s", name, e.policy.Kind))
		if truncated {
			ch.noteTruncated(product.ProductID, name, quantity)
		}
		ch.task = e.persistLocked(remote.OpUpsertItem, product.ProductID, func(ctx context.Context) error {
			return e.remote.UpsertItem(ctx, item)
		})
	}
	ch.snap = e.snapshotLocked()
	e.mu.Unlock()

	e.apply("add", ch)
	return ch.result, nil
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line. Unknown product identifiers are ignored.
func (e *Engine[T]) UpdateQuantity(productID string, quantity int) (Result, error) {
	if quantity <= 0 {
		return e.Remove(productID), nil
	}
	if !e.policy.TracksQuantity {
		return e.reject("update_quantity", productID, ErrQuantityNotTracked,
			fmt.Sprintf("%s items have no quantity", e.policy.Kind.Title()))
	}

	var ch change[T]

	e.mu.Lock()
	existing, exists := e.items.Get(productID)
	if !exists {
		e.mu.Unlock()
		return Result{}, nil
	}

	name := existing.DisplayName()
	truncated := false
	if stock, known := existing.StockLimit(); known {
		if stock <= 0 {
			e.mu.Unlock()
			return e.reject("update_quantity", productID, ErrOutOfStock, fmt.Sprintf("%s is out of stock", name))
		}
		quantity, truncated = collection.Clamp(quantity, stock)
	}

	ch.result = Result{Quantity: quantity, Truncated: truncated}
	if truncated {
		ch.noteTruncated(productID, name, quantity)
	}

	if quantity != existing.Units() {
		e.items.Put(existing.WithUnits(quantity))
		ch.result.Changed = true
		ch.note(notify.EventUpdated, notify.LevelSuccess, productID,
			fmt.Sprintf("Updated %s quantity in %s", name, e.policy.Kind))
		ch.task = e.persistLocked(remote.OpUpdateQuantity, productID, func(ctx context.Context) error {
			return e.remote.UpdateItemQuantity(ctx, productID, quantity)
		})
	}
	ch.snap = e.snapshotLocked()
	e.mu.Unlock()

	e.apply("update_quantity", ch)
	return ch.result, nil
}

// Remove deletes a line. Removing an absent product is a no-op.
func (e *Engine[T]) Remove(productID string) Result {
	var ch change[T]

	e.mu.Lock()
	removed, ok := e.items.Remove(productID)
	if !ok {
		e.mu.Unlock()
		return Result{}
	}

	ch.result = Result{Changed: true}
	ch.note(notify.EventRemoved, notify.LevelInfo, productID,
		fmt.Sprintf("Removed %s from %s", removed.DisplayName(), e.policy.Kind))
	ch.task = e.persistLocked(remote.OpRemoveItem, productID, func(ctx context.Context) error {
		return e.remote.RemoveItem(ctx, productID)
	})
	ch.snap = e.snapshotLocked()
	e.mu.Unlock()

	e.apply("remove", ch)
	return ch.result
}

// Clear empties the collection.
func (e *Engine[T]) Clear() {
	var ch change[T]

	e.mu.Lock()
	e.items.Clear()
	ch.result = Result{Changed: true}
	ch.note(notify.EventCleared, notify.LevelInfo, "", fmt.Sprintf("%s cleared", e.policy.Kind.Title()))
	ch.task = e.persistLocked(remote.OpClear, "", func(ctx context.Context) error {
		return e.remote.Clear(ctx)
	})
	ch.snap = e.snapshotLocked()
	e.mu.Unlock()

	e.apply("clear", ch)
}

// Contains reports whether productID is in the collection.
func (e *Engine[T]) Contains(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Contains(productID)
}

// Get returns the line for productID.
func (e *Engine[T]) Get(productID string) (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Get(productID)
}

// Items returns the lines in display order.
func (e *Engine[T]) Items() []T {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Items()
}

// Len returns the number of distinct lines.
func (e *Engine[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Len()
}

// Count returns the number of units (cart) or lines (wishlist).
func (e *Engine[T]) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Count()
}

// Total returns the collection value using sale prices where present.
func (e *Engine[T]) Total() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.items.Total()
}

// Snapshot returns a consistent read-only copy of items, count and total.
func (e *Engine[T]) Snapshot() Snapshot[T] {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change.
// fn runs on the goroutine that made the change, outside the engine lock.
func (e *Engine[T]) Subscribe(fn func(Snapshot[T])) func() {
	e.watchMu.Lock()
	e.nextID++
	id := e.nextID
	e.watchers[id] = fn
	e.watchMu.Unlock()

	return func() {
		e.watchMu.Lock()
		delete(e.watchers, id)
		e.watchMu.Unlock()
	}
}

// Wait blocks until every detached persistence task and merge has finished.
func (e *Engine[T]) Wait() {
	e.tasks.wait()
}

// Close detaches the engine from the auth bus. In-flight tasks keep running;
// call Wait to drain them.
func (e *Engine[T]) Close() {
	for _, off := range e.unsubscribe {
		off()
	}
	e.unsubscribe = nil
}

// change collects the side effects of one operation so they can be released
// after the engine lock is dropped.
type change[T any] struct {
	result Result
	notes  []notify.Notification
	task   *task
	snap   Snapshot[T]
}

func (c *change[T]) note(event notify.Event, level notify.Level, productID, message string) {
	c.notes = append(c.notes, notify.Notification{
		Event:     event,
		Level:     level,
		ProductID: productID,
		Message:   message,
	})
}

func (c *change[T]) noteTruncated(productID, name string, quantity int) {
	c.note(notify.EventTruncated, notify.LevelWarning, productID,
		fmt.Sprintf("Only %d of %s available; quantity adjusted", quantity, name))
}

type task struct {
	op        string
	productID string
	run       func(ctx context.Context) error
}

// persistLocked writes the local snapshot right away in anonymous mode, or
// returns the remote call to detach once the lock is released.
func (e *Engine[T]) persistLocked(op, productID string, call func(ctx context.Context) error) *task {
	if e.modeLocked() == Authenticated {
		if e.overlay != nil {
			e.overlay.touch(productID)
		}
		e.tasks.start()
		return &task{op: op, productID: productID, run: call}
	}

	if err := e.local.Save(e.key(), e.items.Items()); err != nil {
		e.logger.Error("failed to save local snapshot", zap.String("operation", op), zap.Error(err))
	}
	return nil
}

func (e *Engine[T]) apply(op string, ch change[T]) {
	outcome := outcomeUnchanged
	if ch.result.Changed {
		outcome = outcomeChanged
	}
	operationsTotal.WithLabelValues(string(e.policy.Kind), op, outcome).Inc()

	for _, n := range ch.notes {
		n.Kind = e.policy.Kind
		e.notifier.Notify(n)
	}

	if ch.result.Changed {
		e.publish(ch.snap)
	}

	if ch.task != nil {
		e.detach(ch.task)
	}
}

func (e *Engine[T]) reject(op, productID string, err error, message string) (Result, error) {
	operationsTotal.WithLabelValues(string(e.policy.Kind), op, outcomeRejected).Inc()
	e.notifier.Notify(notify.Notification{
		Kind:      e.policy.Kind,
		Event:     notify.EventRejected,
		Level:     notify.LevelWarning,
		ProductID: productID,
		Message:   message,
		Err:       err,
	})
	return Result{}, err
}

// detach runs t in the background on its own context. Failures are reported,
// never retried, and never roll back local state. t was counted by
// persistLocked.
func (e *Engine[T]) detach(t *task) {
	kind := string(e.policy.Kind)

	inFlightTasks.WithLabelValues(kind).Inc()
	go func() {
		defer e.tasks.done()
		defer inFlightTasks.WithLabelValues(kind).Dec()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := t.run(ctx); err != nil {
			e.reportSyncFailure(t.op, t.productID, err,
				fmt.Sprintf("Your %s update may not have been saved", e.policy.Kind))
		}
	}()
}

func (e *Engine[T]) reportSyncFailure(op, productID string, err error, message string) {
	var syncErr *remote.SyncError
	if !errors.As(err, &syncErr) {
		syncErr = &remote.SyncError{Op: op, Kind: e.policy.Kind, ProductID: productID, Err: err}
	}

	remoteSyncFailuresTotal.WithLabelValues(string(e.policy.Kind), op).Inc()
	e.logger.Warn("remote sync failed",
		zap.String("operation", op),
		zap.String("product_id", productID),
		zap.Error(syncErr),
	)
	e.notifier.Notify(notify.Notification{
		Kind:      e.policy.Kind,
		Event:     notify.EventSyncFailed,
		Level:     notify.LevelError,
		ProductID: productID,
		Message:   message,
		Err:       syncErr,
	})
}

func (e *Engine[T]) publish(snap Snapshot[T]) {
	e.watchMu.Lock()
	fns := make([]func(Snapshot[T]), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.watchMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (e *Engine[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Items: e.items.Items(),
		Count: e.items.Count(),
		Total: e.items.Total(),
	}
}

func (e *Engine[T]) key() string {
	return string(e.policy.Kind)
}

func modeOf(authenticated bool) Mode {
	if authenticated {
		return Authenticated
	}
	return Anonymous
}

func describeUser(u *model.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.Email)
}
