// Package server wires the collection service's HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/cache"
	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/handler"
	"github.com/vyrodovalexey/basket-sync/internal/middleware"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/service"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

// sweepInterval is how often expired sessions are dropped.
const sweepInterval = 10 * time.Minute

// Deps are the backends the server is built on.
type Deps struct {
	Cart      store.CollectionStore[model.CartItem]
	Wishlist  store.CollectionStore[model.WishlistItem]
	Directory *auth.Directory
	// Cache is optional; nil disables read caching.
	Cache cache.CollectionCache
	// Checks are run by /ready.
	Checks map[string]handler.Check
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	logger     *zap.Logger
	wsHandler  *handler.WebSocketHandler
	sessions   *auth.SessionManager

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	s := &Server{
		router:    mux.NewRouter().UseEncodedPath(),
		config:    cfg,
		logger:    logger,
		sessions:  auth.NewSessionManager(cfg.SessionTTL, cfg.CookieSecure),
		wsHandler: handler.NewWebSocketHandler(cfg.AllowedOrigins, logger),
		stopSweep: make(chan struct{}),
	}

	authenticator := auth.NewMultiAuthenticator(
		auth.NewSessionAuthenticator(s.sessions),
		auth.NewBasicAuthenticator(deps.Directory),
	)

	s.setupRouterMiddleware(authenticator)
	s.setupRoutes(deps)
	s.setupHTTPServer()

	return s
}

// setupRouterMiddleware installs the middleware that needs the matched route.
func (s *Server) setupRouterMiddleware(authenticator auth.Authenticator) {
	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}
	s.router.Use(mux.MiddlewareFunc(middleware.Auth(authenticator, s.logger)))
}

// handler wraps the router in the outer middleware chain. CORS sits outside
// the router so preflight requests reach it without a matching route.
func (s *Server) handler() http.Handler {
	allowedMethods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}
	allowedHeaders := []string{
		"Content-Type",
		"Authorization",
		middleware.RequestIDHeader,
	}

	return middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.CORS(s.config.AllowedOrigins, allowedMethods, allowedHeaders),
	)(s.router)
}

// setupRoutes builds the services and registers every handler.
func (s *Server) setupRoutes(deps Deps) {
	opts := service.Options{
		Cache:     deps.Cache,
		Publisher: s.wsHandler,
		Logger:    s.logger,
	}
	cartSvc := service.New[model.CartItem](model.KindCart, deps.Cart, opts)
	wishlistSvc := service.New[model.WishlistItem](model.KindWishlist, deps.Wishlist, opts)

	handler.NewHealthHandler(deps.Checks, s.logger).RegisterRoutes(s.router)
	handler.NewUsersHandler(deps.Directory, s.sessions, s.logger).RegisterRoutes(s.router)
	handler.NewCollectionHandler(cartSvc, s.logger).RegisterRoutes(s.router)
	handler.NewCollectionHandler(wishlistSvc, s.logger).RegisterRoutes(s.router)
	s.wsHandler.RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupHTTPServer configures the HTTP server.
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Start starts the session sweeper and the HTTP server. It blocks until the
// server stops.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		zap.String("address", s.config.Address()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
	)

	go s.sweepSessions()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen and serve: %w", err)
	}

	return nil
}

func (s *Server) sweepSessions() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.sweepOnce.Do(func() { close(s.stopSweep) })
	s.wsHandler.CloseAllConnections()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Sessions returns the server's session manager.
func (s *Server) Sessions() *auth.SessionManager {
	return s.sessions
}
