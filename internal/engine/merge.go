package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/collection"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/notify"
	"github.com/vyrodovalexey/basket-sync/internal/remote"
)

// onLogin switches to Authenticated and starts the merge. The anonymous
// snapshot is read synchronously so that later mutations cannot leak into it.
func (e *Engine[T]) onLogin(payload any) {
	user := userFromPayload(payload)

	e.mu.Lock()
	e.user = user
	e.epoch++
	epoch := e.epoch
	local := e.local.Load(e.key())
	e.overlay = newMergeOverlay[T]()
	e.tasks.start()
	e.merging.Add(1)
	e.mu.Unlock()

	e.logger.Info("login received, merging collection",
		zap.String("user", describeUser(user)),
		zap.Int("local_items", len(local)),
	)

	go func() {
		defer e.tasks.done()
		defer e.merging.Add(-1)

		e.merge(epoch, local)
	}()
}

// merge pushes a non-empty anonymous snapshot to the service, or pulls the
// server collection when there is nothing local. On failure the in-memory
// collection stays as it was and the engine remains Authenticated.
func (e *Engine[T]) merge(epoch uint64, local []T) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var (
		items  []T
		err    error
		op     = remote.OpFetch
		result = mergeFetched
	)
	if len(local) > 0 {
		op, result = remote.OpReplace, mergeReplaced
		items, err = e.remote.Replace(ctx, local)
	} else {
		items, err = e.remote.Fetch(ctx)
	}

	if err != nil {
		e.mu.Lock()
		if e.epoch == epoch {
			e.overlay = nil
		}
		e.mu.Unlock()

		mergesTotal.WithLabelValues(string(e.policy.Kind), mergeFailed).Inc()
		e.reportSyncFailure(op, "", err,
			fmt.Sprintf("Your %s could not be synced with your account", e.policy.Kind))
		return
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		mergesTotal.WithLabelValues(string(e.policy.Kind), mergeDiscarded).Inc()
		e.logger.Info("session changed during merge, result discarded")
		return
	}
	overlay := e.overlay
	e.overlay = nil
	latest := overlay.latest(e.items)
	e.items.Reset(items)
	if replayed := overlay.replay(e.items, latest); replayed > 0 {
		e.logger.Debug("replayed changes made during merge", zap.Int("lines", replayed))
	}
	if op == remote.OpReplace {
		if err := e.local.Clear(e.key()); err != nil {
			e.logger.Error("failed to clear local snapshot after merge", zap.Error(err))
		}
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	mergesTotal.WithLabelValues(string(e.policy.Kind), result).Inc()
	e.logger.Info("collection merged",
		zap.String("result", result),
		zap.Int("items", len(snap.Items)),
	)

	if op == remote.OpReplace {
		e.notifier.Notify(notify.Notification{
			Kind:    e.policy.Kind,
			Event:   notify.EventMerged,
			Level:   notify.LevelSuccess,
			Message: fmt.Sprintf("Your %s has been synced with your account", e.policy.Kind),
		})
	}
	e.publish(snap)
}

// onLogout snapshots the collection locally before anything else can mutate
// it. The server copy is left alone.
func (e *Engine[T]) onLogout(any) {
	e.mu.Lock()
	e.user = nil
	e.epoch++
	e.overlay = nil
	items := e.items.Items()
	err := e.local.Save(e.key(), items)
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("failed to snapshot collection on logout", zap.Error(err))
		return
	}
	e.logger.Info("logout received, collection snapshotted", zap.Int("items", len(items)))
}

// mergeOverlay remembers which lines the shopper changed after a merge was
// started. Those lines keep their local state when the merge result lands.
type mergeOverlay[T model.Line[T]] struct {
	cleared bool
	keys    []string
	seen    map[string]struct{}
}

func newMergeOverlay[T model.Line[T]]() *mergeOverlay[T] {
	return &mergeOverlay[T]{seen: make(map[string]struct{})}
}

// touch records a change to key. An empty key means the collection was cleared,
// which supersedes every earlier change.
func (o *mergeOverlay[T]) touch(key string) {
	if key == "" {
		o.cleared = true
		o.keys = nil
		o.seen = make(map[string]struct{})
		return
	}
	if _, ok := o.seen[key]; ok {
		return
	}
	o.seen[key] = struct{}{}
	o.keys = append(o.keys, key)
}

// latest captures the current local state of every touched line. Absent keys
// were removed locally.
func (o *mergeOverlay[T]) latest(items *collection.Collection[T]) map[string]T {
	if o == nil {
		return nil
	}
	out := make(map[string]T, len(o.keys))
	for _, key := range o.keys {
		if item, ok := items.Get(key); ok {
			out[key] = item
		}
	}
	return out
}

// replay applies the touched lines onto items and returns how many it applied.
func (o *mergeOverlay[T]) replay(items *collection.Collection[T], latest map[string]T) int {
	if o == nil {
		return 0
	}
	if o.cleared {
		items.Clear()
	}
	for _, key := range o.keys {
		if item, ok := latest[key]; ok {
			items.Put(item)
		} else {
			items.Remove(key)
		}
	}
	return len(o.keys)
}

func userFromPayload(payload any) *model.User {
	switch u := payload.(type) {
	case *model.User:
		if u != nil {
			return u
		}
	case model.User:
		return &u
	}
	return &model.User{}
}
