package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/authsignal"
	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/engine"
	"github.com/vyrodovalexey/basket-sync/internal/handler"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/remote"
	"github.com/vyrodovalexey/basket-sync/internal/snapshot"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:      8080,
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		MetricsEnabled:  true,
		AllowedOrigins:  []string{"http://shop.local"},
		StoreDriver:     config.StoreMemory,
		CacheTTL:        time.Minute,
		SessionTTL:      time.Hour,
	}
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	cart     *store.MemoryStore[model.CartItem]
	wishlist *store.MemoryStore[model.WishlistItem]
}

func newFixture(t *testing.T, checks map[string]handler.Check) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	dir, err := auth.NewDirectory("ann@example.com:" + string(hash))
	require.NoError(t, err)

	f := &fixture{
		cart:     store.NewMemoryStore[model.CartItem](),
		wishlist: store.NewMemoryStore[model.WishlistItem](),
	}
	f.srv = New(testConfig(), zap.NewNop(), Deps{
		Cart:      f.cart,
		Wishlist:  f.wishlist,
		Directory: dir,
		Checks:    checks,
	})
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.srv.Shutdown(ctx)
		f.http.Close()
	})
	return f
}

// client returns a transport with its own cookie jar, logged in when login is set.
func (f *fixture) client(t *testing.T, login bool) (*remote.Transport, *cookiejar.Jar) {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	tr, err := remote.NewTransport(remote.Options{
		BaseURL:    f.http.URL + "/api",
		HTTPClient: &http.Client{Jar: jar, Timeout: 5 * time.Second},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	if login {
		_, err := remote.NewSessionClient(tr).Login(context.Background(), "ann@example.com", "secret")
		require.NoError(t, err)
	}
	return tr, jar
}

func line(id string, qty int) model.CartItem {
	return model.CartItem{ProductInfo: model.ProductInfo{ProductID: id, Name: "Wine " + id, Price: 12.5}, Quantity: qty}
}

func TestServer_ProbesArePublic(t *testing.T) {
	f := newFixture(t, map[string]handler.Check{
		"store": func(context.Context) error { return nil },
	})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_ReadyReportsFailingCheck(t *testing.T) {
	f := newFixture(t, map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})

	resp, err := http.Get(f.http.URL + "/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_CollectionsRequireSession(t *testing.T) {
	f := newFixture(t, nil)
	tr, _ := f.client(t, false)

	_, err := remote.NewClient[model.CartItem](tr, model.KindCart).Fetch(context.Background())

	var syncErr *remote.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, http.StatusUnauthorized, syncErr.StatusCode)
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestServer_BasicAuthForScripts(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/wishlist", nil)
	require.NoError(t, err)
	req.SetBasicAuth("ann@example.com", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RemoteClientRoundTrip(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	tr, _ := f.client(t, true)
	cart := remote.NewClient[model.CartItem](tr, model.KindCart)
	ctx := context.Background()

	// Act
	merged, err := cart.Replace(ctx, []model.CartItem{line("A", 1), line("B", 2)})
	require.NoError(t, err)
	require.NoError(t, cart.UpsertItem(ctx, line("C", 1)))
	require.NoError(t, cart.UpdateItemQuantity(ctx, "A", 3))
	require.NoError(t, cart.RemoveItem(ctx, "B"))
	require.NoError(t, cart.RemoveItem(ctx, "B"))
	missing := cart.UpdateItemQuantity(ctx, "ZZZ", 1)
	items, err := cart.Fetch(ctx)
	require.NoError(t, err)

	// Assert
	assert.Len(t, merged, 2)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].ProductID)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "C", items[1].ProductID)

	var syncErr *remote.SyncError
	require.ErrorAs(t, missing, &syncErr)
	assert.Equal(t, http.StatusNotFound, syncErr.StatusCode)

	require.NoError(t, cart.Clear(ctx))
	items, err = cart.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestServer_ProductIDsWithReservedCharacters(t *testing.T) {
	f := newFixture(t, nil)
	tr, _ := f.client(t, true)
	cart := remote.NewClient[model.CartItem](tr, model.KindCart)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
	}{
		{name: "slash", id: "red/750ml"},
		{name: "percent", id: "abv 14%"},
		{name: "question mark", id: "what?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, cart.UpsertItem(ctx, line(tt.id, 1)))
			require.NoError(t, cart.UpdateItemQuantity(ctx, tt.id, 5))

			items, err := cart.Fetch(ctx)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tt.id, items[0].ProductID)
			assert.Equal(t, 5, items[0].Quantity)

			require.NoError(t, cart.RemoveItem(ctx, tt.id))
			items, err = cart.Fetch(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestServer_LoginMergesAnonymousCart(t *testing.T) {
	// Arrange: the account already holds S1 server-side.
	f := newFixture(t, nil)
	tr, _ := f.client(t, false)

	session := remote.NewSessionClient(tr)
	bus := authsignal.NewBus(zap.NewNop())
	local := snapshot.NewStore[model.CartItem](snapshot.NewMemoryBackend(), zap.NewNop())
	eng, err := engine.NewCart(engine.Deps[model.CartItem]{
		Bus:    bus,
		Local:  local,
		Remote: remote.NewClient[model.CartItem](tr, model.KindCart),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	_, err = eng.Add(model.Product{ProductInfo: line("L1", 0).ProductInfo, Stock: 10}, 2)
	require.NoError(t, err)

	// Act
	user, err := session.Login(context.Background(), "ann@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, f.cart.Replace(context.Background(), user.ID, []model.CartItem{line("S1", 1)}))
	bus.Emit(authsignal.Login, user)
	eng.Wait()

	// Assert
	items := eng.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "L1", items[0].ProductID, "local lines lead the merged cart")
	assert.Equal(t, "S1", items[1].ProductID)
	assert.Empty(t, local.Load(string(model.KindCart)), "local snapshot is cleared after the merge")

	// Authenticated writes land server-side.
	_, err = eng.UpdateQuantity("S1", 4)
	require.NoError(t, err)
	eng.Wait()
	server, err := f.cart.List(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, server, 2)
	assert.Equal(t, 4, server[1].Quantity)
}

func TestServer_WebSocketReceivesCollectionEvents(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	tr, jar := f.client(t, true)
	base, err := url.Parse(f.http.URL)
	require.NoError(t, err)

	header := http.Header{}
	for _, c := range jar.Cookies(base) {
		header.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	// Act: wait until the hub has registered the socket, then write.
	require.Eventually(t, func() bool {
		return f.srv.wsHandler.Connections(sessionUser(t, f, jar, base)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, remote.NewClient[model.CartItem](tr, model.KindCart).UpsertItem(context.Background(), line("P1", 3)))

	// Assert
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg model.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, model.WSMessageTypeCollectionUpdated, msg.Type)
	assert.Equal(t, model.KindCart, msg.Collection)
	assert.Equal(t, 3, msg.Count)
}

func sessionUser(t *testing.T, f *fixture, jar *cookiejar.Jar, base *url.URL) string {
	t.Helper()
	for _, c := range jar.Cookies(base) {
		if c.Name == auth.CookieName {
			if u, ok := f.srv.Sessions().Lookup(c.Value); ok {
				return u.ID
			}
		}
	}
	return ""
}

func TestServer_WebSocketRequiresSession(t *testing.T) {
	f := newFixture(t, nil)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/cart/items/P1", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://shop.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://shop.local", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestServer_RequestIDEchoed(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	srv := New(testConfig(), zap.NewNop(), Deps{
		Cart:     store.NewMemoryStore[model.CartItem](),
		Wishlist: store.NewMemoryStore[model.WishlistItem](),
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}
