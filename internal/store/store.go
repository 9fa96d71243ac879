// Package store provides server-side collection repositories.
package store

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Store errors.
var (
	ErrNotFound    = errors.New("item not found")
	ErrInvalidID   = errors.New("invalid product ID")
	ErrInvalidUser = errors.New("invalid user ID")
)

// CollectionStore keeps one ordered collection of lines per user.
type CollectionStore[T model.Line[T]] interface {
	// List returns the user's lines in display order. A user with no
	// collection gets an empty slice.
	List(ctx context.Context, userID string) ([]T, error)

	// Replace overwrites the user's collection with items, in order.
	Replace(ctx context.Context, userID string, items []T) error

	// Upsert replaces the line with the same product in place, or appends it.
	Upsert(ctx context.Context, userID string, item T) error

	// SetUnits changes the quantity of an existing line.
	SetUnits(ctx context.Context, userID, productID string, units int) error

	// Remove deletes a line. Removing an absent line is not an error.
	Remove(ctx context.Context, userID, productID string) error

	// Clear deletes the whole collection.
	Clear(ctx context.Context, userID string) error
}

func checkIDs(userID string, productIDs ...string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	for _, id := range productIDs {
		if id == "" {
			return ErrInvalidID
		}
	}
	return nil
}
