package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vyrodovalexey/basket-sync/internal/collection"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// MemoryStore implements CollectionStore with in-memory storage.
type MemoryStore[T model.Line[T]] struct {
	mu    sync.RWMutex
	users map[string]*collection.Collection[T]
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore[T model.Line[T]]() *MemoryStore[T] {
	return &MemoryStore[T]{
		users: make(map[string]*collection.Collection[T]),
	}
}

// List returns the user's lines in display order.
func (s *MemoryStore[T]) List(ctx context.Context, userID string) ([]T, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list items: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.users[userID]
	if !exists {
		return []T{}, nil
	}

	return c.Items(), nil
}

// Replace overwrites the user's collection.
func (s *MemoryStore[T]) Replace(ctx context.Context, userID string, items []T) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("replace items: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = collection.New(items)

	return nil
}

// Upsert replaces the line with the same product in place, or appends it.
func (s *MemoryStore[T]) Upsert(ctx context.Context, userID string, item T) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("upsert item: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID, item.Key()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.users[userID]
	if !exists {
		c = collection.New[T](nil)
		s.users[userID] = c
	}
	c.Put(item)

	return nil
}

// SetUnits changes the quantity of an existing line.
func (s *MemoryStore[T]) SetUnits(ctx context.Context, userID, productID string, units int) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("update item: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID, productID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.users[userID]
	if !exists {
		return ErrNotFound
	}
	item, exists := c.Get(productID)
	if !exists {
		return ErrNotFound
	}
	c.Put(item.WithUnits(units))

	return nil
}

// Remove deletes a line.
func (s *MemoryStore[T]) Remove(ctx context.Context, userID, productID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("remove item: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID, productID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, exists := s.users[userID]; exists {
		c.Remove(productID)
	}

	return nil
}

// Clear deletes the whole collection.
func (s *MemoryStore[T]) Clear(ctx context.Context, userID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("clear items: %w", ctx.Err())
	default:
	}

	if err := checkIDs(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)

	return nil
}
