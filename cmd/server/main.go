// Package main is the entry point of the collection service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/cache"
	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/handler"
	"github.com/vyrodovalexey/basket-sync/internal/model"
	"github.com/vyrodovalexey/basket-sync/internal/server"
	"github.com/vyrodovalexey/basket-sync/internal/store"
)

const startupTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to initialize logger", zap.Error(err))
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Bool("cache_enabled", cfg.CacheEnabled()),
	)

	dir, err := auth.NewDirectory(cfg.Users)
	if err != nil {
		logger.Error("failed to load users", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	deps, closeBackends, err := buildDeps(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize backends", zap.Error(err))
		return 1
	}
	defer closeBackends()
	deps.Directory = dir

	srv := server.New(cfg, logger, deps)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", zap.Error(err))
		return 1
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return 1
		}
	}

	logger.Info("server stopped")
	return 0
}

// buildDeps opens the configured repository and cache. The returned func
// releases them.
func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (server.Deps, func(), error) {
	deps := server.Deps{Checks: make(map[string]handler.Check)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return deps, closeAll, err
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Cart = store.NewPostgresStore[model.CartItem](db, model.KindCart)
		deps.Wishlist = store.NewPostgresStore[model.WishlistItem](db, model.KindWishlist)
		deps.Checks["postgres"] = pingDB(db)
		logger.Info("using postgres store")
	case config.StoreMemory:
		deps.Cart = store.NewMemoryStore[model.CartItem]()
		deps.Wishlist = store.NewMemoryStore[model.WishlistItem]()
		logger.Info("using in-memory store")
	default:
		return deps, closeAll, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}

	if cfg.CacheEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, func() { _ = client.Close() })

		// An unreachable cache is not fatal; reads fall through to the store.
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		deps.Cache = cache.NewRedisCache(client, cfg.CacheTTL)
		deps.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CacheTTL))
	}

	return deps, closeAll, nil
}

func pingDB(db *sql.DB) handler.Check {
	return db.PingContext
}

// initLogger initializes a zap logger with the specified log level.
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}
