package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/service"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

// asUser authenticates every request as userID, as the auth middleware would.
func asUser(userID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID != "" {
			info := &auth.AuthInfo{Method: auth.AuthMethodSession, User: &model.User{ID: userID}}
			r = r.WithContext(auth.WithAuthInfo(r.Context(), info))
		}
		next.ServeHTTP(w, r)
	})
}

type collectionFixture struct {
	router   *mux.Router
	cart     *store.MemoryStore[model.CartItem]
	wishlist *store.MemoryStore[model.WishlistItem]
}

func newCollectionFixture() *collectionFixture {
	f := &collectionFixture{
		router:   mux.NewRouter().UseEncodedPath(),
		cart:     store.NewMemoryStore[model.CartItem](),
		wishlist: store.NewMemoryStore[model.WishlistItem](),
	}

	logger := zap.NewNop()
	cartSvc := service.New[model.CartItem](model.KindCart, f.cart, service.Options{Logger: logger})
	wishSvc := service.New[model.WishlistItem](model.KindWishlist, f.wishlist, service.Options{Logger: logger})
	NewCollectionHandler(cartSvc, logger).RegisterRoutes(f.router)
	NewCollectionHandler(wishSvc, logger).RegisterRoutes(f.router)
	return f
}

func (f *collectionFixture) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	asUser(userID, f.router).ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func cartLine(id string, qty int) model.CartItem {
	return model.CartItem{
		ProductInfo: model.ProductInfo{ProductID: id, Name: "Wine " + id, Price: 10},
		Quantity:    qty,
	}
}

func decodeItems[T any](t *testing.T, rec *httptest.ResponseRecorder) []T {
	t.Helper()

	var resp model.APIResponse[[]T]
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (body %s)", err, rec.Body.String())
	}
	if !resp.Success {
		t.Fatalf("response not successful: %s", rec.Body.String())
	}
	return resp.Data
}

func keys[T model.Line[T]](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key())
	}
	return out
}

func TestCollectionHandler_GetEmpty(t *testing.T) {
	f := newCollectionFixture()

	rec := f.do(t, "u1", http.MethodGet, "/api/cart", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"data":[]`)) {
		t.Errorf("empty cart should encode as [], got %s", body)
	}
}

func TestCollectionHandler_SyncMergesIncomingFirst(t *testing.T) {
	// Arrange
	f := newCollectionFixture()
	ctx := context.Background()
	if err := f.cart.Replace(ctx, "u1", []model.CartItem{cartLine("S1", 2), cartLine("SHARED", 5)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Act
	rec := f.do(t, "u1", http.MethodPost, "/api/cart", []model.CartItem{cartLine("L1", 1), cartLine("SHARED", 1)})

	// Assert
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	merged := decodeItems[model.CartItem](t, rec)
	want := []string{"L1", "SHARED", "S1"}
	if got := keys(merged); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("merged order = %v, want %v", got, want)
	}
	if merged[1].Quantity != 1 {
		t.Errorf("SHARED quantity = %d, incoming should win", merged[1].Quantity)
	}
}

func TestCollectionHandler_ItemLifecycle(t *testing.T) {
	f := newCollectionFixture()

	steps := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{name: "upsert", method: http.MethodPost, path: "/api/cart/items", body: cartLine("P1", 2), wantStatus: http.StatusOK},
		{name: "upsert second", method: http.MethodPost, path: "/api/cart/items", body: cartLine("P2", 1), wantStatus: http.StatusOK},
		{name: "set quantity", method: http.MethodPut, path: "/api/cart/items/P1", body: model.QuantityUpdate{Quantity: 4}, wantStatus: http.StatusOK},
		{name: "set quantity missing", method: http.MethodPut, path: "/api/cart/items/NOPE", body: model.QuantityUpdate{Quantity: 1}, wantStatus: http.StatusNotFound},
		{name: "set quantity zero", method: http.MethodPut, path: "/api/cart/items/P1", body: model.QuantityUpdate{Quantity: 0}, wantStatus: http.StatusBadRequest},
		{name: "remove", method: http.MethodDelete, path: "/api/cart/items/P2", wantStatus: http.StatusNoContent},
		{name: "remove again", method: http.MethodDelete, path: "/api/cart/items/P2", wantStatus: http.StatusNoContent},
		{name: "invalid item", method: http.MethodPost, path: "/api/cart/items", body: cartLine("P3", 0), wantStatus: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/cart/items", body: "{not json", wantStatus: http.StatusBadRequest},
	}

	for _, step := range steps {
		rec := f.do(t, "u1", step.method, step.path, step.body)
		if rec.Code != step.wantStatus {
			t.Fatalf("%s: status = %d, want %d (%s)", step.name, rec.Code, step.wantStatus, rec.Body.String())
		}
	}

	items := decodeItems[model.CartItem](t, f.do(t, "u1", http.MethodGet, "/api/cart", nil))
	if len(items) != 1 || items[0].ProductID != "P1" || items[0].Quantity != 4 {
		t.Errorf("cart = %+v", items)
	}

	if rec := f.do(t, "u1", http.MethodDelete, "/api/cart", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if items := decodeItems[model.CartItem](t, f.do(t, "u1", http.MethodGet, "/api/cart", nil)); len(items) != 0 {
		t.Errorf("cart after clear = %+v", items)
	}
}

func TestCollectionHandler_EscapedProductIDs(t *testing.T) {
	f := newCollectionFixture()

	steps := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{name: "upsert", method: http.MethodPost, path: "/api/cart/items", body: cartLine("red/750ml", 1), wantStatus: http.StatusOK},
		{name: "upsert percent", method: http.MethodPost, path: "/api/cart/items", body: cartLine("abv 14%", 1), wantStatus: http.StatusOK},
		{name: "set quantity", method: http.MethodPut, path: "/api/cart/items/red%2F750ml", body: model.QuantityUpdate{Quantity: 3}, wantStatus: http.StatusOK},
		{name: "remove percent", method: http.MethodDelete, path: "/api/cart/items/abv%2014%25", wantStatus: http.StatusNoContent},
	}

	for _, step := range steps {
		rec := f.do(t, "u1", step.method, step.path, step.body)
		if rec.Code != step.wantStatus {
			t.Fatalf("%s: status = %d, want %d (%s)", step.name, rec.Code, step.wantStatus, rec.Body.String())
		}
	}

	items := decodeItems[model.CartItem](t, f.do(t, "u1", http.MethodGet, "/api/cart", nil))
	if len(items) != 1 || items[0].ProductID != "red/750ml" || items[0].Quantity != 3 {
		t.Errorf("cart = %+v", items)
	}
}

func TestCollectionHandler_WishlistHasNoQuantityRoute(t *testing.T) {
	f := newCollectionFixture()
	item := model.WishlistItem{ProductInfo: model.ProductInfo{ProductID: "W1", Name: "Rioja", Price: 20}}

	if rec := f.do(t, "u1", http.MethodPost, "/api/wishlist/items", item); rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d", rec.Code)
	}
	rec := f.do(t, "u1", http.MethodPut, "/api/wishlist/items/W1", model.QuantityUpdate{Quantity: 3})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT wishlist item status = %d, want 405", rec.Code)
	}
}

func TestCollectionHandler_UsersAreIsolated(t *testing.T) {
	f := newCollectionFixture()

	f.do(t, "u1", http.MethodPost, "/api/cart/items", cartLine("P1", 1))

	if items := decodeItems[model.CartItem](t, f.do(t, "u2", http.MethodGet, "/api/cart", nil)); len(items) != 0 {
		t.Errorf("u2 sees %v", keys(items))
	}
}

func TestCollectionHandler_RequiresUser(t *testing.T) {
	f := newCollectionFixture()

	rec := f.do(t, "", http.MethodGet, "/api/cart", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

type failingStore struct {
	store.CollectionStore[model.CartItem]
}

func (failingStore) List(context.Context, string) ([]model.CartItem, error) {
	return nil, errors.New("disk on fire")
}

func TestCollectionHandler_StoreFailureIs500(t *testing.T) {
	router := mux.NewRouter()
	svc := service.New[model.CartItem](model.KindCart, failingStore{}, service.Options{})
	NewCollectionHandler(svc, zap.NewNop()).RegisterRoutes(router)
	rec := httptest.NewRecorder()

	asUser("u1", router).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Message != "internal server error" {
		t.Errorf("body = %s", rec.Body.String())
	}
}
