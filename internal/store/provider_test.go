package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/config"
	"github.com/rostrumdev/rostrum/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/rostrumdev/rostrum/internal/store/pgstore"
	_ "github.com/rostrumdev/rostrum/internal/store/redisstore"
)

// fakeDriver is a store.Driver that always succeeds without connecting
// to a backend.
func fakeDriver(_ context.Context, _ config.StoreConfig, _ clock.Clock) (store.Store, error) {
	return nil, nil
}

func TestOpen(t *testing.T) {
	// Register a test driver.
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{
			name:    "registered driver succeeds",
			driver:  "test-driver",
			wantErr: false,
		},
		{
			name:    "unknown driver fails",
			driver:  "nonexistent",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.StoreConfig{Driver: tt.driver}
			_, err := store.Open(context.Background(), cfg, clock.Real{})
			if (err != nil) != tt.wantErr {
				t.Errorf("Open(driver=%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	// Registering "redis" and "postgres" should already be done via init()
	// imports. These drivers will fail to actually connect (nothing is
	// listening), so we only check that the error is NOT "unknown store
	// driver".

	tests := []struct {
		driver string
		cfg    config.StoreConfig
	}{
		{
			driver: "redis",
			cfg: config.StoreConfig{
				Driver: "redis",
				Redis:  config.RedisConfig{Addr: "localhost:1"},
			},
		},
		{
			driver: "postgres",
			cfg: config.StoreConfig{
				Driver: "postgres",
				Postgres: config.PostgresConfig{
					Host: "localhost", Port: 1, SSLMode: "disable",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			_, err := store.Open(context.Background(), tt.cfg, clock.Real{})
			if err == nil {
				t.Fatal("expected error (no backend running), got nil")
			}
			if strings.Contains(err.Error(), "unknown store driver") {
				t.Errorf("expected connection error, got unknown driver error: %v", err)
			}
		})
	}
}
