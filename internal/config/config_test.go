package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rostrumdev/rostrum/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
server:
  port: 9090
  shutdown_timeout: 30s
  allowed_origins: ["https://console.example.com"]
stores:
  remote:
    driver: "redis"
    redis:
      addr: "cache.example.com:6379"
      db: 2
  local:
    driver: "postgres"
    postgres:
      host: "db.example.com"
      port: 5433
      user: "rostrum"
      password: "secret"
      dbname: "rostrum"
      sslmode: "require"
sync:
  push_timeout: 2s
auction:
  bid_increment: 50
  cap_budget_percent: 70
telemetry:
  service_name: "my-auction"
  otlp_endpoint: "localhost:4318"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Stores.Remote.Redis.Addr != "cache.example.com:6379" {
					t.Errorf("got redis addr %q, want %q", cfg.Stores.Remote.Redis.Addr, "cache.example.com:6379")
				}
				if cfg.Stores.Local.Postgres.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Stores.Local.Postgres.Port, 5433)
				}
				if cfg.Sync.PushTimeout != 2*time.Second {
					t.Errorf("got push timeout %v, want %v", cfg.Sync.PushTimeout, 2*time.Second)
				}
				if cfg.Auction.BidIncrement != 50 {
					t.Errorf("got bid increment %d, want %d", cfg.Auction.BidIncrement, 50)
				}
				if cfg.Telemetry.ServiceName != "my-auction" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-auction")
				}
			},
		},
		{
			name:    "defaults applied",
			yaml:    `{}`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.Stores.Remote.Driver != "redis" {
					t.Errorf("got remote driver %q, want %q", cfg.Stores.Remote.Driver, "redis")
				}
				if cfg.Stores.Local.Driver != "postgres" {
					t.Errorf("got local driver %q, want %q", cfg.Stores.Local.Driver, "postgres")
				}
				if cfg.Stores.Local.Postgres.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Stores.Local.Postgres.Host, "localhost")
				}
				if cfg.Auction.BidIncrement != 100 {
					t.Errorf("got bid increment %d, want %d", cfg.Auction.BidIncrement, 100)
				}
				if cfg.Auction.CappedCategory != "capped" {
					t.Errorf("got capped category %q, want %q", cfg.Auction.CappedCategory, "capped")
				}
				if cfg.Telemetry.ServiceName != "rostrum" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "rostrum")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "unknown store driver rejected",
			yaml: `
stores:
  remote:
    driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "redis accepted as local tier",
			yaml: `
stores:
  local:
    driver: "redis"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Stores.Local.Driver != "redis" {
					t.Errorf("got local driver %q, want %q", cfg.Stores.Local.Driver, "redis")
				}
			},
		},
		{
			name: "zero bid increment rejected",
			yaml: `
auction:
  bid_increment: 0
`,
			wantErr: true,
		},
		{
			name: "max below min rejected",
			yaml: `
auction:
  min_players_per_team: 10
  max_players_per_team: 4
`,
			wantErr: true,
		},
		{
			name: "cap percent above 100 rejected",
			yaml: `
auction:
  cap_budget_percent: 120
`,
			wantErr: true,
		},
		{
			name: "announcer enabled without token rejected",
			yaml: `
announcer:
  enabled: true
  channel_id: "123"
`,
			wantErr: true,
		},
		{
			name: "announcer enabled with credentials",
			yaml: `
announcer:
  enabled: true
  token: "tok"
  channel_id: "123"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if !cfg.Announcer.Enabled {
					t.Error("expected announcer enabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestAuctionConfig_Params(t *testing.T) {
	cfg := config.AuctionConfig{
		MinPlayersPerTeam: 6,
		MaxPlayersPerTeam: 12,
		CapBudgetPercent:  65,
		BidIncrement:      100,
		CappedCategory:    "capped",
	}
	params := cfg.Params()
	if params.BidIncrement != 100 {
		t.Errorf("got increment %d, want %d", params.BidIncrement, 100)
	}
	if params.CapBudgetPercent != 65 {
		t.Errorf("got cap percent %d, want %d", params.CapBudgetPercent, 65)
	}
	if params.CappedCategory != "capped" {
		t.Errorf("got capped category %q, want %q", params.CappedCategory, "capped")
	}
}
