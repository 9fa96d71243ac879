package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Operation names carried by SyncError.
const (
	OpFetch          = "fetch"
	OpReplace        = "replace"
	OpUpsertItem     = "upsert_item"
	OpUpdateQuantity = "update_quantity"
	OpRemoveItem     = "remove_item"
	OpClear          = "clear"
)

// SyncError reports a failed call to the collection service. The caller's
// optimistic local state is not rolled back on such a failure.
type SyncError struct {
	Op         string
	Kind       model.Kind
	ProductID  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	target := string(e.Kind)
	if e.ProductID != "" {
		target += "/" + e.ProductID
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, target, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Client performs collection operations for one collection kind.
type Client[T model.Line[T]] struct {
	t    *Transport
	kind model.Kind
}

// NewClient creates a collection client for kind over t.
func NewClient[T model.Line[T]](t *Transport, kind model.Kind) *Client[T] {
	return &Client[T]{t: t, kind: kind}
}

// Kind returns the collection kind this client serves.
func (c *Client[T]) Kind() model.Kind {
	return c.kind
}

// Fetch returns the server-side collection.
func (c *Client[T]) Fetch(ctx context.Context) ([]T, error) {
	data, err := c.t.do(ctx, http.MethodGet, nil, string(c.kind))
	if err != nil {
		return nil, c.fail(OpFetch, "", err)
	}

	items, err := decodeItems[T](data)
	if err != nil {
		return nil, c.fail(OpFetch, "", err)
	}
	return items, nil
}

// Replace sends items as the client's collection and returns the collection the
// server settled on.
func (c *Client[T]) Replace(ctx context.Context, items []T) ([]T, error) {
	if items == nil {
		items = []T{}
	}

	data, err := c.t.do(ctx, http.MethodPost, items, string(c.kind))
	if err != nil {
		return nil, c.fail(OpReplace, "", err)
	}

	merged, err := decodeItems[T](data)
	if err != nil {
		return nil, c.fail(OpReplace, "", err)
	}
	return merged, nil
}

// UpsertItem inserts item or replaces the server record with the same key.
func (c *Client[T]) UpsertItem(ctx context.Context, item T) error {
	if _, err := c.t.do(ctx, http.MethodPost, item, string(c.kind), "items"); err != nil {
		return c.fail(OpUpsertItem, item.Key(), err)
	}
	return nil
}

// UpdateItemQuantity sets the quantity of an existing item.
func (c *Client[T]) UpdateItemQuantity(ctx context.Context, productID string, quantity int) error {
	body := model.QuantityUpdate{Quantity: quantity}
	if _, err := c.t.do(ctx, http.MethodPut, body, string(c.kind), "items", url.PathEscape(productID)); err != nil {
		return c.fail(OpUpdateQuantity, productID, err)
	}
	return nil
}

// RemoveItem deletes one item.
func (c *Client[T]) RemoveItem(ctx context.Context, productID string) error {
	if _, err := c.t.do(ctx, http.MethodDelete, nil, string(c.kind), "items", url.PathEscape(productID)); err != nil {
		return c.fail(OpRemoveItem, productID, err)
	}
	return nil
}

// Clear empties the server-side collection.
func (c *Client[T]) Clear(ctx context.Context) error {
	if _, err := c.t.do(ctx, http.MethodDelete, nil, string(c.kind)); err != nil {
		return c.fail(OpClear, "", err)
	}
	return nil
}

func (c *Client[T]) fail(op, productID string, err error) error {
	return &SyncError{
		Op:         op,
		Kind:       c.kind,
		ProductID:  productID,
		StatusCode: statusCode(err),
		Err:        err,
	}
}

func decodeItems[T any](data json.RawMessage) ([]T, error) {
	if len(data) == 0 || string(data) == "null" {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
