package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	// Postgres driver for database/sql.
	_ "github.com/lib/pq"

	"github.com/vyrodovalexey/basket-sync/internal/collection"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// Schema creates the collection table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS collection_items (
	user_id    TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	product_id TEXT        NOT NULL,
	position   INTEGER     NOT NULL,
	payload    JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, kind, product_id)
)`

const (
	queryList = `SELECT payload FROM collection_items WHERE user_id = $1 AND kind = $2 ORDER BY position`

	queryClear = `DELETE FROM collection_items WHERE user_id = $1 AND kind = $2`

	queryInsert = `INSERT INTO collection_items (user_id, kind, product_id, position, payload) VALUES ($1, $2, $3, $4, $5)`

	queryNextPosition = `SELECT COALESCE(MAX(position), -1) + 1 FROM collection_items WHERE user_id = $1 AND kind = $2`

	queryUpsert = `INSERT INTO collection_items (user_id, kind, product_id, position, payload) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, kind, product_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`

	querySelectForUpdate = `SELECT payload FROM collection_items WHERE user_id = $1 AND kind = $2 AND product_id = $3 FOR UPDATE`

	queryUpdatePayload = `UPDATE collection_items SET payload = $4, updated_at = now() WHERE user_id = $1 AND kind = $2 AND product_id = $3`

	queryRemove = `DELETE FROM collection_items WHERE user_id = $1 AND kind = $2 AND product_id = $3`
)

// OpenPostgres connects to dsn, checks the connection and applies Schema.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// PostgresStore implements CollectionStore on a collection_items table.
// Lines are stored as JSON payloads so cart and wishlist share one table.
type PostgresStore[T model.Line[T]] struct {
	db   *sql.DB
	kind model.Kind
}

// NewPostgresStore creates a store for kind over db.
func NewPostgresStore[T model.Line[T]](db *sql.DB, kind model.Kind) *PostgresStore[T] {
	return &PostgresStore[T]{db: db, kind: kind}
}

// List returns the user's lines in display order.
func (s *PostgresStore[T]) List(ctx context.Context, userID string) ([]T, error) {
	if err := checkIDs(userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, queryList, userID, string(s.kind))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		var item T
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	return items, nil
}

// Replace overwrites the user's collection in one transaction.
func (s *PostgresStore[T]) Replace(ctx context.Context, userID string, items []T) error {
	if err := checkIDs(userID); err != nil {
		return err
	}

	deduped := collection.New(items).Items()

	return s.withTx(ctx, "replace items", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryClear, userID, string(s.kind)); err != nil {
			return err
		}

		for i, item := range deduped {
			payload, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, queryInsert,
				userID, string(s.kind), item.Key(), i, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Upsert replaces the line in place, or appends it after the last position.
func (s *PostgresStore[T]) Upsert(ctx context.Context, userID string, item T) error {
	if err := checkIDs(userID, item.Key()); err != nil {
		return err
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	return s.withTx(ctx, "upsert item", func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, queryNextPosition, userID, string(s.kind)).Scan(&next); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, queryUpsert,
			userID, string(s.kind), item.Key(), next, string(payload))
		return err
	})
}

// SetUnits changes the quantity of an existing line.
func (s *PostgresStore[T]) SetUnits(ctx context.Context, userID, productID string, units int) error {
	if err := checkIDs(userID, productID); err != nil {
		return err
	}

	return s.withTx(ctx, "update item", func(tx *sql.Tx) error {
		var payload []byte
		err := tx.QueryRowContext(ctx, querySelectForUpdate, userID, string(s.kind), productID).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var item T
		if err := json.Unmarshal(payload, &item); err != nil {
			return err
		}

		updated, err := json.Marshal(item.WithUnits(units))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, queryUpdatePayload, userID, string(s.kind), productID, string(updated))
		return err
	})
}

// Remove deletes a line.
func (s *PostgresStore[T]) Remove(ctx context.Context, userID, productID string) error {
	if err := checkIDs(userID, productID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, queryRemove, userID, string(s.kind), productID); err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// Clear deletes the whole collection.
func (s *PostgresStore[T]) Clear(ctx context.Context, userID string) error {
	if err := checkIDs(userID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, queryClear, userID, string(s.kind)); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

func (s *PostgresStore[T]) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
