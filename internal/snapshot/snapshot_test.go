package snapshot

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

func sampleCart() []model.CartItem {
	return []model.CartItem{
		{
			ProductInfo: model.ProductInfo{
				ProductID: "p1",
				Name:      "Malbec Reserva",
				Image:     "https://cdn.example.com/p1.jpg",
				Price:     24.9,
				SalePrice: model.Float(19.9),
				Category:  "wine",
				Type:      "red",
				Country:   "Argentina",
				Brand:     "Catena",
				Varietal:  "Malbec",
				Size:      "750ml",
				ABV:       "13.5%",
			},
			Quantity: 2,
			Stock:    model.Int(5),
		},
		{
			ProductInfo: model.ProductInfo{ProductID: "p2", Name: "Tonic", Price: 2},
			Quantity:    6,
		},
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore[model.CartItem](backend, zap.NewNop())
			want := sampleCart()

			require.NoError(t, store.Save(string(model.KindCart), want))
			got := store.Load(string(model.KindCart))

			assert.Equal(t, want, got)
		})
	}
}

func TestStore_OverwriteIsLastWriteWins(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore[model.CartItem](backend, zap.NewNop())

			require.NoError(t, store.Save("cart", sampleCart()))
			require.NoError(t, store.Save("cart", sampleCart()[1:]))

			got := store.Load("cart")
			require.Len(t, got, 1)
			assert.Equal(t, "p2", got[0].ProductID)
		})
	}
}

func TestStore_LoadAbsentKeyIsEmpty(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore[model.WishlistItem](backend, zap.NewNop())

			got := store.Load("wishlist")

			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestStore_LoadCorruptSnapshot(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{{{"},
		{"wrong shape", `{"productId":"p1"}`},
		{"truncated", `[{"productId":"p1","quantity":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			core, logs := observer.New(zap.WarnLevel)
			backend := NewMemoryBackend()
			require.NoError(t, backend.Set("cart", []byte(tt.raw)))
			store := NewStore[model.CartItem](backend, zap.New(core))

			// Act
			got := store.Load("cart")

			// Assert
			assert.Empty(t, got)
			assert.Equal(t, 1, logs.FilterMessage("corrupt local snapshot, starting empty").Len())
		})
	}
}

func TestStore_LoadNullIsEmpty(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set("cart", []byte("null")))

	got := NewStore[model.CartItem](backend, nil).Load("cart")

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_SaveNilWritesEmptyArray(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewStore[model.CartItem](backend, nil)

	require.NoError(t, store.Save("cart", nil))

	raw, err := backend.Get("cart")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestStore_Clear(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore[model.CartItem](backend, zap.NewNop())
			require.NoError(t, store.Save("cart", sampleCart()))

			require.NoError(t, store.Clear("cart"))
			require.NoError(t, store.Clear("cart"), "clearing twice is fine")

			_, err := backend.Get("cart")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Empty(t, store.Load("cart"))
		})
	}
}

type failingBackend struct{ err error }

func (f failingBackend) Get(string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Set(string, []byte) error   { return f.err }
func (f failingBackend) Delete(string) error        { return f.err }

func TestStore_BackendFailures(t *testing.T) {
	boom := errors.New("disk full")
	core, logs := observer.New(zap.ErrorLevel)
	store := NewStore[model.CartItem](failingBackend{err: boom}, zap.New(core))

	assert.Empty(t, store.Load("cart"))
	assert.Equal(t, 1, logs.Len())
	assert.ErrorIs(t, store.Save("cart", sampleCart()), boom)
	assert.ErrorIs(t, store.Clear("cart"), boom)
}

func TestBackends_EmptyKey(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Get("")
			assert.ErrorIs(t, err, ErrEmptyKey)
			assert.ErrorIs(t, backend.Set("", []byte("x")), ErrEmptyKey)
			assert.ErrorIs(t, backend.Delete(""), ErrEmptyKey)
		})
	}
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, NewStore[model.CartItem](first, nil).Save("cart", sampleCart()))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, sampleCart(), NewStore[model.CartItem](second, nil).Load("cart"))
}

func TestSQLiteBackend_Closed(t *testing.T) {
	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err = backend.Get("cart")
	assert.ErrorIs(t, err, ErrClosedKV)
	assert.ErrorIs(t, backend.Set("cart", nil), ErrClosedKV)
}
