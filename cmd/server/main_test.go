package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/config"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"debug level", "debug"},
		{"info level", "info"},
		{"warn level", "warn"},
		{"error level", "error"},
		{"invalid level defaults to info", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.level)

			if err != nil {
				t.Fatalf("initLogger() error = %v", err)
			}
			if logger == nil {
				t.Error("initLogger() returned nil logger")
			}
		})
	}
}

func TestBuildDeps_Memory(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.StoreMemory, CacheTTL: time.Minute}

	deps, closeAll, err := buildDeps(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildDeps() error = %v", err)
	}
	defer closeAll()

	if deps.Cart == nil || deps.Wishlist == nil {
		t.Fatal("stores not built")
	}
	if deps.Cache != nil {
		t.Error("cache should be disabled without a Redis address")
	}
	if len(deps.Checks) != 0 {
		t.Errorf("checks = %d, want 0", len(deps.Checks))
	}
	if err := deps.Cart.Upsert(context.Background(), "u1", model.CartItem{
		ProductInfo: model.ProductInfo{ProductID: "p1", Name: "Wine", Price: 1},
		Quantity:    1,
	}); err != nil {
		t.Errorf("Upsert() error = %v", err)
	}
}

func TestBuildDeps_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{StoreDriver: config.StoreMemory, RedisAddr: mr.Addr(), CacheTTL: time.Minute}

	deps, closeAll, err := buildDeps(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildDeps() error = %v", err)
	}
	defer closeAll()

	if deps.Cache == nil {
		t.Fatal("cache not built")
	}
	check, ok := deps.Checks["redis"]
	if !ok {
		t.Fatal("redis readiness check missing")
	}
	if err := check(context.Background()); err != nil {
		t.Errorf("redis check error = %v", err)
	}

	mr.Close()
	if err := check(context.Background()); err == nil {
		t.Error("redis check should fail once the server is gone")
	}
}

func TestBuildDeps_UnknownDriver(t *testing.T) {
	cfg := &config.Config{StoreDriver: "mongo"}

	_, closeAll, err := buildDeps(context.Background(), cfg, zap.NewNop())
	defer closeAll()

	if err == nil {
		t.Error("buildDeps() should reject an unknown driver")
	}
}
