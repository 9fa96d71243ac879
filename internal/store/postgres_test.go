package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore[model.CartItem], sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresStore[model.CartItem](db, model.KindCart), mock
}

func payload(t *testing.T, item model.CartItem) string {
	t.Helper()

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestPostgresStore_List(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow([]byte(payload(t, line("p2", 2)))).
		AddRow([]byte(payload(t, line("p1", 1))))
	mock.ExpectQuery(regexp.QuoteMeta(queryList)).
		WithArgs("u1", "cart").
		WillReturnRows(rows)

	items, err := s.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if got := ids(items); !equalIDs(got, []string{"p2:2", "p1:1"}) {
		t.Errorf("List() = %v, want [p2:2 p1:1]", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_ListEmptyAndCorrupt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryList)).
		WithArgs("u1", "cart").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectQuery(regexp.QuoteMeta(queryList)).
		WithArgs("u1", "cart").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("{broken")))

	items, err := s.List(context.Background(), "u1")
	if err != nil || items == nil || len(items) != 0 {
		t.Fatalf("List() = %v, %v; want empty slice", items, err)
	}

	if _, err := s.List(context.Background(), "u1"); err == nil {
		t.Fatal("List() expected decode error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Replace(t *testing.T) {
	s, mock := newMockStore(t)
	items := []model.CartItem{line("p1", 1), line("p2", 2), line("p1", 9)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryClear)).
		WithArgs("u1", "cart").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(queryInsert)).
		WithArgs("u1", "cart", "p1", 0, payload(t, items[0])).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsert)).
		WithArgs("u1", "cart", "p2", 1, payload(t, items[1])).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Replace(context.Background(), "u1", items); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_ReplaceRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryClear)).
		WithArgs("u1", "cart").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(queryInsert)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Replace(context.Background(), "u1", []model.CartItem{line("p1", 1)})
	if err == nil {
		t.Fatal("Replace() expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	item := line("p3", 2)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryNextPosition)).
		WithArgs("u1", "cart").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsert)).
		WithArgs("u1", "cart", "p3", 2, payload(t, item)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Upsert(context.Background(), "u1", item); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_SetUnits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySelectForUpdate)).
		WithArgs("u1", "cart", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(payload(t, line("p1", 1)))))
	mock.ExpectExec(regexp.QuoteMeta(queryUpdatePayload)).
		WithArgs("u1", "cart", "p1", payload(t, line("p1", 4))).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.SetUnits(context.Background(), "u1", "p1", 4); err != nil {
		t.Fatalf("SetUnits() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_SetUnitsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySelectForUpdate)).
		WithArgs("u1", "cart", "p1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.SetUnits(context.Background(), "u1", "p1", 4)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetUnits() error = %v, want %v", err, ErrNotFound)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RemoveAndClear(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(queryRemove)).
		WithArgs("u1", "cart", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(queryClear)).
		WithArgs("u1", "cart").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.Remove(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := s.Clear(context.Background(), "u1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_InvalidIDsSkipDatabase(t *testing.T) {
	s, mock := newMockStore(t)

	if _, err := s.List(context.Background(), ""); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("List() error = %v, want %v", err, ErrInvalidUser)
	}
	if err := s.Remove(context.Background(), "u1", ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Remove() error = %v, want %v", err, ErrInvalidID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}
