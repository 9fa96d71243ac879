// Package snapshot persists collection snapshots in client-local storage.
//
// A snapshot is a JSON array of item records stored under a fixed key
// ("cart", "wishlist"). Reads never fail: missing or corrupt data loads as an
// empty collection. Writers are not coordinated across processes; the last
// write wins.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Backend errors.
var (
	ErrNotFound = errors.New("snapshot key not found")
	ErrEmptyKey = errors.New("snapshot key cannot be empty")
	ErrClosedKV = errors.New("snapshot backend is closed")
)

// Backend is a minimal key/value storage the snapshot store writes through.
type Backend interface {
	// Get returns the raw value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// Store reads and writes item snapshots of type T.
type Store[T any] struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore creates a snapshot store over backend.
func NewStore[T any](backend Backend, logger *zap.Logger) *Store[T] {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store[T]{
		backend: backend,
		logger:  logger,
	}
}

// Load returns the items saved under key. Absent, unreadable or malformed
// snapshots load as an empty slice; the condition is logged, never returned.
func (s *Store[T]) Load(key string) []T {
	data, err := s.backend.Get(key)
	if errors.Is(err, ErrNotFound) {
		return []T{}
	}
	if err != nil {
		s.logger.Error("failed to read local snapshot",
			zap.String("key", key),
			zap.Error(err),
		)
		return []T{}
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.Warn("corrupt local snapshot, starting empty",
			zap.String("key", key),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return []T{}
	}

	if items == nil {
		items = []T{}
	}

	return items
}

// Save replaces the snapshot under key with items.
func (s *Store[T]) Save(key string, items []T) error {
	if items == nil {
		items = []T{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	if err := s.backend.Set(key, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}

	return nil
}

// Clear removes the snapshot under key.
func (s *Store[T]) Clear(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("clear snapshot %s: %w", key, err)
	}
	return nil
}
