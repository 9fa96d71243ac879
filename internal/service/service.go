// Package service implements the server side of the collection resource.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/basket-sync/internal/cache"
	"github.com/vyrodovalexey/basket-sync/internal/collection"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

const cacheTimeout = time.Second

// Service errors.
var (
	ErrInvalidItem     = errors.New("invalid item")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Publisher delivers collection events to a user's live connections.
type Publisher interface {
	Publish(userID string, msg model.WebSocketMessage)
}

// Options configure a CollectionService. Cache and Publisher are optional.
type Options struct {
	Cache     cache.CollectionCache
	Publisher Publisher
	Logger    *zap.Logger
}

// CollectionService serves one collection kind for every user.
type CollectionService[T model.Line[T]] struct {
	kind      model.Kind
	repo      store.CollectionStore[T]
	cache     cache.CollectionCache
	publisher Publisher
	logger    *zap.Logger

	sfg   singleflight.Group
	users sync.Map // userID -> *userState
}

// userState serializes one user's writes. version counts successful writes
// so a cache fill can tell that the collection it read is no longer current.
type userState struct {
	mu      sync.Mutex
	version atomic.Uint64
}

// New creates a service for kind over repo.
func New[T model.Line[T]](kind model.Kind, repo store.CollectionStore[T], opts Options) *CollectionService[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CollectionService[T]{
		kind:      kind,
		repo:      repo,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		logger:    logger.With(zap.String("collection", string(kind))),
	}
}

// Kind returns the collection kind served.
func (s *CollectionService[T]) Kind() model.Kind {
	return s.kind
}

// Get returns the user's collection. Concurrent misses for the same user
// share one repository read.
func (s *CollectionService[T]) Get(ctx context.Context, userID string) ([]T, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		if items, ok := s.fromCache(ctx, userID); ok {
			return items, nil
		}

		version := s.user(userID).version.Load()
		items, err := s.repo.List(ctx, userID)
		if err != nil {
			return nil, err
		}

		if s.cache != nil {
			go s.fill(userID, items, version)
		}

		return items, nil
	})
	if err != nil {
		return nil, err
	}

	items := v.([]T)
	out := make([]T, len(items))
	copy(out, items)
	return out, nil
}

// Sync merges incoming into the user's collection: incoming lines first, in
// their order, replacing server lines with the same product, then the
// server-only lines in their existing order. It returns the merged collection.
func (s *CollectionService[T]) Sync(ctx context.Context, userID string, incoming []T) ([]T, error) {
	for _, item := range incoming {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidItem, err)
		}
	}

	st := s.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	existing, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := collection.New(incoming)
	for _, item := range existing {
		if !merged.Contains(item.Key()) {
			merged.Put(item)
		}
	}
	items := merged.Items()

	if err := s.repo.Replace(ctx, userID, items); err != nil {
		return nil, err
	}
	st.version.Add(1)

	s.logger.Info("collection synced",
		zap.String("user_id", userID),
		zap.Int("incoming", len(incoming)),
		zap.Int("existing", len(existing)),
		zap.Int("merged", len(items)),
	)
	s.changed(userID, merged.Count())

	return items, nil
}

// Upsert stores one line.
func (s *CollectionService[T]) Upsert(ctx context.Context, userID string, item T) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	return s.write(ctx, userID, "upsert", func() error {
		return s.repo.Upsert(ctx, userID, item)
	})
}

// SetQuantity changes the quantity of an existing line.
func (s *CollectionService[T]) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	return s.write(ctx, userID, "set_quantity", func() error {
		return s.repo.SetUnits(ctx, userID, productID, quantity)
	})
}

// Remove deletes one line. Removing an absent line succeeds.
func (s *CollectionService[T]) Remove(ctx context.Context, userID, productID string) error {
	return s.write(ctx, userID, "remove", func() error {
		return s.repo.Remove(ctx, userID, productID)
	})
}

// Clear empties the user's collection.
func (s *CollectionService[T]) Clear(ctx context.Context, userID string) error {
	return s.write(ctx, userID, "clear", func() error {
		return s.repo.Clear(ctx, userID)
	})
}

func (s *CollectionService[T]) write(ctx context.Context, userID, op string, fn func() error) error {
	st := s.user(userID)
	st.mu.Lock()
	err := fn()
	if err == nil {
		st.version.Add(1)
	}
	st.mu.Unlock()

	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("repository write failed",
				zap.String("operation", op),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return err
	}

	count := -1
	if s.publisher != nil {
		if items, err := s.repo.List(ctx, userID); err == nil {
			count = collection.New(items).Count()
		}
	}
	s.changed(userID, count)
	return nil
}

// changed invalidates the cache and tells the user's connections. A negative
// count is sent as zero.
func (s *CollectionService[T]) changed(userID string, count int) {
	s.invalidate(userID)

	if s.publisher == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	s.publisher.Publish(userID, model.NewCollectionUpdatedMessage(s.kind, count))
}

func (s *CollectionService[T]) fromCache(ctx context.Context, userID string) ([]T, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, err := s.cache.Get(ctx, s.kind, userID)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn("cached collection is corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	if items == nil {
		items = []T{}
	}
	return items, true
}

// fill caches items read at version. It runs under the user's write lock
// and skips the write when the collection changed since the read.
func (s *CollectionService[T]) fill(userID string, items []T, version uint64) {
	st := s.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.version.Load() != version {
		s.logger.Debug("collection changed since read, cache fill skipped", zap.String("user_id", userID))
		return
	}

	data, err := json.Marshal(items)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if err := s.cache.Set(ctx, s.kind, userID, data); err != nil {
		s.logger.Warn("cache set failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *CollectionService[T]) invalidate(userID string) {
	if s.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if err := s.cache.Delete(ctx, s.kind, userID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *CollectionService[T]) user(userID string) *userState {
	v, _ := s.users.LoadOrStore(userID, &userState{})
	return v.(*userState)
}
