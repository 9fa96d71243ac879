package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/server"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

const testCatalog = `
products:
  - productId: "101"
    name: Malbec Reserva
    brand: Catena
    category: Red
    price: 24.5
    salePrice: 19.9
    stock: 6
  - productId: "102"
    name: Albarino
    category: White
    price: 18
    stock: 3
  - productId: "103"
    name: Barolo
    category: Red
    price: 60
    stock: 0
`

// service is a collection service running in-process.
type service struct {
	url      string
	cart     *store.MemoryStore[model.CartItem]
	wishlist *store.MemoryStore[model.WishlistItem]
}

func startService(t *testing.T) *service {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	dir, err := auth.NewDirectory("ann@example.com:" + string(hash))
	require.NoError(t, err)

	svc := &service{
		cart:     store.NewMemoryStore[model.CartItem](),
		wishlist: store.NewMemoryStore[model.WishlistItem](),
	}
	srv := server.New(&config.Config{
		ServerPort:      8080,
		LogLevel:        "info",
		ShutdownTimeout: time.Second,
		AllowedOrigins:  []string{"*"},
		StoreDriver:     config.StoreMemory,
		SessionTTL:      time.Hour,
	}, zap.NewNop(), server.Deps{
		Cart:      svc.cart,
		Wishlist:  svc.wishlist,
		Directory: dir,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})

	svc.url = ts.URL + "/api"
	return svc
}

func writeCatalog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	return path
}

func clientConfig(t *testing.T, apiURL string) *config.ClientConfig {
	t.Helper()

	return &config.ClientConfig{
		APIURL:           apiURL,
		LogLevel:         "warn",
		CatalogPath:      writeCatalog(t),
		RemoteTimeout:    5 * time.Second,
		BreakerEnabled:   true,
		BreakerThreshold: 5,
		BreakerOpenFor:   time.Second,
	}
}

// newTestApp returns an app with in-memory snapshots and the buffer its
// notifications are printed to.
func newTestApp(t *testing.T, cfg *config.ClientConfig) (*App, *lockedWriter, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	out := &lockedWriter{w: buf}
	app, err := NewApp(context.Background(), cfg, zap.NewNop(), printNotifier(out))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, out, buf
}

func script(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}
