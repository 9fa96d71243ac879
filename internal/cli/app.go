package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/authsignal"
	"github.com/vyrodovalexey/basket-sync/internal/catalog"
	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/engine"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/notify"
	"github.com/vyrodovalexey/basket-sync/internal/remote"
	"github.com/vyrodovalexey/basket-sync/internal/snapshot"
)

// ErrNotLoggedIn is returned by Logout when there is no session.
var ErrNotLoggedIn = errors.New("not logged in")

// App is one shopper's client: a catalog, the two collection engines and the
// session they share.
type App struct {
	Catalog  *catalog.Catalog
	Cart     *engine.Engine[model.CartItem]
	Wishlist *engine.Engine[model.WishlistItem]

	logger  *zap.Logger
	bus     *authsignal.Bus
	session *remote.SessionClient
	closers []func() error
}

// NewApp wires the client from cfg. Notifications go to notifier and to the
// logger. Both collections are loaded from the local snapshot.
func NewApp(ctx context.Context, cfg *config.ClientConfig, logger *zap.Logger, notifier notify.Notifier) (*App, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Catalog: cat,
		logger:  logger,
		bus:     authsignal.NewBus(logger),
	}

	backend, err := a.openBackend(cfg.SnapshotPath)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport, err := remote.NewTransport(remote.Options{
		BaseURL:    cfg.APIURL,
		HTTPClient: &http.Client{Jar: jar, Timeout: cfg.RemoteTimeout},
		Breaker: remote.BreakerSettings{
			Enabled:   cfg.BreakerEnabled,
			Threshold: uint32(cfg.BreakerThreshold), //nolint:gosec // validated positive
			OpenFor:   cfg.BreakerOpenFor,
		},
		Logger: logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create transport: %w", err)
	}
	a.session = remote.NewSessionClient(transport)

	notifiers := notify.Multi{notify.NewLogger(logger)}
	if notifier != nil {
		notifiers = append(notifiers, notifier)
	}

	a.Cart, err = engine.NewCart(engine.Deps[model.CartItem]{
		Bus:           a.bus,
		Local:         snapshot.NewStore[model.CartItem](backend, logger),
		Remote:        remote.NewClient[model.CartItem](transport, model.KindCart),
		Notifier:      notifiers,
		Logger:        logger,
		RemoteTimeout: cfg.RemoteTimeout,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create cart: %w", err)
	}

	a.Wishlist, err = engine.NewWishlist(engine.Deps[model.WishlistItem]{
		Bus:           a.bus,
		Local:         snapshot.NewStore[model.WishlistItem](backend, logger),
		Remote:        remote.NewClient[model.WishlistItem](transport, model.KindWishlist),
		Notifier:      notifiers,
		Logger:        logger,
		RemoteTimeout: cfg.RemoteTimeout,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create wishlist: %w", err)
	}

	if err := a.Cart.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.Wishlist.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openBackend(path string) (snapshot.Backend, error) {
	if path == "" {
		a.logger.Debug("using in-memory snapshot storage")
		return snapshot.NewMemoryBackend(), nil
	}

	backend, err := snapshot.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot storage: %w", err)
	}
	a.closers = append(a.closers, backend.Close)
	return backend, nil
}

// User returns the logged-in user, or nil.
func (a *App) User() *model.User {
	return a.Cart.User()
}

// Login opens a session and starts merging both collections into the account.
// It returns once the merges have finished.
func (a *App) Login(ctx context.Context, email, password string) (*model.User, error) {
	user, err := a.session.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	a.logger.Info("logged in", zap.String("user_id", user.ID))
	a.bus.Emit(authsignal.Login, user)
	a.Wait()
	return user, nil
}

// Logout waits for pending writes, ends the session and switches both
// collections back to the local snapshot. The local switch happens even when
// the service cannot be reached.
func (a *App) Logout(ctx context.Context) error {
	if a.User() == nil {
		return ErrNotLoggedIn
	}

	a.Wait()
	err := a.session.Logout(ctx)
	a.bus.Emit(authsignal.Logout, nil)
	if err != nil {
		return err
	}

	a.logger.Info("logged out")
	return nil
}

// Whoami asks the service who the session belongs to.
func (a *App) Whoami(ctx context.Context) (*model.User, error) {
	if a.User() == nil {
		return nil, ErrNotLoggedIn
	}
	return a.session.Me(ctx)
}

// Wait blocks until both engines have no detached work left.
func (a *App) Wait() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Cart.Wait()
	}()
	go func() {
		defer wg.Done()
		a.Wishlist.Wait()
	}()
	wg.Wait()
}

// Close drains pending writes and releases storage.
func (a *App) Close() error {
	if a.Cart != nil {
		a.Cart.Wait()
		a.Cart.Close()
	}
	if a.Wishlist != nil {
		a.Wishlist.Wait()
		a.Wishlist.Close()
	}

	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// lockedWriter serializes writes from the shell and from background sync
// failures.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// printNotifier writes notifications as "[level] message" lines.
func printNotifier(w io.Writer) notify.Notifier {
	return notify.Func(func(n notify.Notification) {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	})
}
