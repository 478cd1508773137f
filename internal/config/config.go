package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Stores         StoresConfig         `yaml:"stores"`
	Sync           SyncConfig           `yaml:"sync"`
	Auction        AuctionConfig        `yaml:"auction"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Announcer      AnnouncerConfig      `yaml:"announcer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StoresConfig names the two snapshot persistence tiers.
type StoresConfig struct {
	Remote StoreConfig `yaml:"remote"`
	Local  StoreConfig `yaml:"local"`
}

// StoreConfig selects and configures one snapshot store driver.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // "redis" or "postgres"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// SyncConfig tunes the snapshot synchronizer.
type SyncConfig struct {
	// PushTimeout bounds each storage tier's write individually.
	// Zero disables the per-tier deadline.
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// AuctionConfig supplies the auction parameters applied when an import
// payload does not carry its own.
type AuctionConfig struct {
	MinPlayersPerTeam int    `yaml:"min_players_per_team"`
	MaxPlayersPerTeam int    `yaml:"max_players_per_team"`
	CapBudgetPercent  int    `yaml:"cap_budget_percent"`
	BidIncrement      int    `yaml:"bid_increment"`
	CappedCategory    string `yaml:"capped_category"`
}

// Params converts the defaults into the persisted snapshot config shape.
func (a AuctionConfig) Params() snapshot.Config {
	return snapshot.Config{
		MinPlayersPerTeam: a.MinPlayersPerTeam,
		MaxPlayersPerTeam: a.MaxPlayersPerTeam,
		CapBudgetPercent:  a.CapBudgetPercent,
		BidIncrement:      a.BidIncrement,
		CappedCategory:    a.CappedCategory,
	}
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// AnnouncerConfig holds the optional Discord observer settings.
type AnnouncerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Stores: StoresConfig{
			Remote: StoreConfig{
				Driver: "redis",
				Redis: RedisConfig{
					Addr:     "localhost:6379",
					PoolSize: 100,
				},
			},
			Local: StoreConfig{
				Driver: "postgres",
				Postgres: PostgresConfig{
					Host:    "localhost",
					Port:    5432,
					SSLMode: "disable",
				},
			},
		},
		Sync: SyncConfig{
			PushTimeout: 5 * time.Second,
		},
		Auction: AuctionConfig{
			MinPlayersPerTeam: 6,
			MaxPlayersPerTeam: 12,
			CapBudgetPercent:  65,
			BidIncrement:      100,
			CappedCategory:    "capped",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "rostrum",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "rostrum-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	for _, tier := range []struct {
		name string
		cfg  StoreConfig
	}{
		{"remote", c.Stores.Remote},
		{"local", c.Stores.Local},
	} {
		switch tier.cfg.Driver {
		case "redis", "postgres":
			// valid
		default:
			return fmt.Errorf("unsupported %s store driver %q: must be \"redis\" or \"postgres\"", tier.name, tier.cfg.Driver)
		}
	}

	a := c.Auction
	if a.BidIncrement < 1 {
		return fmt.Errorf("auction bid_increment must be at least 1, got %d", a.BidIncrement)
	}
	if a.MinPlayersPerTeam < 0 {
		return fmt.Errorf("auction min_players_per_team must not be negative, got %d", a.MinPlayersPerTeam)
	}
	if a.MaxPlayersPerTeam < 1 || a.MaxPlayersPerTeam < a.MinPlayersPerTeam {
		return fmt.Errorf("auction max_players_per_team %d invalid with min %d", a.MaxPlayersPerTeam, a.MinPlayersPerTeam)
	}
	if a.CapBudgetPercent < 0 || a.CapBudgetPercent > 100 {
		return fmt.Errorf("auction cap_budget_percent must be within [0,100], got %d", a.CapBudgetPercent)
	}
	if a.CappedCategory == "" {
		return fmt.Errorf("auction capped_category must not be empty")
	}

	if c.Sync.PushTimeout < 0 {
		return fmt.Errorf("sync push_timeout must not be negative")
	}

	if c.Announcer.Enabled && (c.Announcer.Token == "" || c.Announcer.ChannelID == "") {
		return fmt.Errorf("announcer requires token and channel_id when enabled")
	}
	return nil
}
