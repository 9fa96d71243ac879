// Package collection holds the in-memory, ordered view of a cart or wishlist.
package collection

import (
	"github.com/shopspring/decimal"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Collection is an insertion-ordered set of lines keyed by product identifier.
// It is not safe for concurrent use; the engine guards it.
type Collection[T model.Line[T]] struct {
	items []T
	index map[string]int
}

// New builds a collection from items, keeping the first occurrence of each key.
func New[T model.Line[T]](items []T) *Collection[T] {
	c := &Collection[T]{
		items: make([]T, 0, len(items)),
		index: make(map[string]int, len(items)),
	}

	for _, item := range items {
		if _, exists := c.index[item.Key()]; exists {
			continue
		}
		c.index[item.Key()] = len(c.items)
		c.items = append(c.items, item)
	}

	return c
}

// Get returns the line for key.
func (c *Collection[T]) Get(key string) (T, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// Contains reports whether key is present.
func (c *Collection[T]) Contains(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Put replaces the line with the same key in place, or appends it.
// It reports whether the line was newly inserted.
func (c *Collection[T]) Put(item T) bool {
	if i, ok := c.index[item.Key()]; ok {
		c.items[i] = item
		return false
	}

	c.index[item.Key()] = len(c.items)
	c.items = append(c.items, item)
	return true
}

// Remove deletes key and returns the removed line. Removing an absent key is a no-op.
func (c *Collection[T]) Remove(key string) (T, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero T
		return zero, false
	}

	removed := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, key)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].Key()] = j
	}

	return removed, true
}

// Clear empties the collection.
func (c *Collection[T]) Clear() {
	c.items = c.items[:0]
	c.index = make(map[string]int)
}

// Reset replaces the whole content.
func (c *Collection[T]) Reset(items []T) {
	*c = *New(items)
}

// Items returns a copy of the lines in display order.
func (c *Collection[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of distinct lines.
func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Count returns the sum of units: quantities for a cart, line count for a wishlist.
func (c *Collection[T]) Count() int {
	n := 0
	for _, item := range c.items {
		n += item.Units()
	}
	return n
}

// Total returns Σ unit price × units, rounded to cents.
func (c *Collection[T]) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		line := decimal.NewFromFloat(item.UnitPrice()).Mul(decimal.NewFromInt(int64(item.Units())))
		total = total.Add(line)
	}
	return total.Round(2)
}
