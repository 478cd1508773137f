package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rostrumdev/rostrum/internal/auction"
	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/config"
	"github.com/rostrumdev/rostrum/internal/health"
	"github.com/rostrumdev/rostrum/internal/httpapi"
	"github.com/rostrumdev/rostrum/internal/leader"
	"github.com/rostrumdev/rostrum/internal/observer"
	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
	"github.com/rostrumdev/rostrum/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/rostrumdev/rostrum/internal/store/pgstore"
	_ "github.com/rostrumdev/rostrum/internal/store/redisstore"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open both snapshot tiers using their configured drivers.
	remote, err := store.Open(ctx, cfg.Stores.Remote, clk)
	if err != nil {
		return fmt.Errorf("opening remote store (driver=%s): %w", cfg.Stores.Remote.Driver, err)
	}
	defer remote.Close()

	local, err := store.Open(ctx, cfg.Stores.Local, clk)
	if err != nil {
		return fmt.Errorf("opening local store (driver=%s): %w", cfg.Stores.Local.Driver, err)
	}
	defer local.Close()

	logger.InfoContext(ctx, "snapshot tiers ready",
		slog.String("remote", cfg.Stores.Remote.Driver),
		slog.String("local", cfg.Stores.Local.Driver),
	)

	// Resume reads consult the shared remote tier first; after a device
	// handoff the local tier may hold a stale snapshot.
	fanout := store.NewFanout(logger, tp.TracerProvider, cfg.Sync.PushTimeout,
		store.Tier{Name: "remote", Store: remote},
		store.Tier{Name: "local", Store: local},
	)
	syncer := store.NewSyncer(fanout, logger)
	go syncer.Run(ctx)

	// Observer sinks: the websocket hub always, Discord when configured.
	hub := observer.NewHub(logger, nil)
	renderers := []observer.Renderer{hub}

	var announcer *observer.Announcer
	if cfg.Announcer.Enabled {
		session, sessErr := discordgo.New("Bot " + cfg.Announcer.Token)
		if sessErr != nil {
			return fmt.Errorf("creating discord session: %w", sessErr)
		}
		announcer = observer.NewAnnouncer(session, cfg.Announcer.ChannelID, logger)
		renderers = append(renderers, announcer)
	}

	var feedSource store.Subscriber
	if sub, ok := remote.(store.Subscriber); ok {
		feedSource = sub
	}
	feed := observer.NewFeed(logger, feedSource, renderers...)
	defer feed.Close()

	if announcer != nil {
		go announcer.Run(ctx)
		logger.InfoContext(ctx, "discord announcer enabled", slog.String("channel_id", cfg.Announcer.ChannelID))
	}

	// Every mutation lands in the syncer and the observer feed.
	push := auction.PusherFunc(func(snap *snapshot.Snapshot) {
		syncer.Offer(snap)
		feed.Offer(snap)
	})
	manager := auction.NewManager(cfg.Auction.Params(), push, fanout, logger, tp.TracerProvider, clk)

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "remote-store", Check: remote.Ping},
		health.Checker{Name: "local-store", Check: local.Ping},
	)

	api := httpapi.NewServer(manager, feed, hub, fanout, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Routes(healthHandler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger,
			func(leadCtx context.Context) {
				healthHandler.SetReady(true)
				logger.InfoContext(leadCtx, "rostrum is running (leader)", slog.String("version", version))

				// Block until leadership is lost or the process is
				// shutting down.
				<-leadCtx.Done()
				healthHandler.SetReady(false)
			},
			func() {
				logger.Info("lost leadership, shutting down...")
				cancel()
			},
		); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		// No leader election, run directly.
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "rostrum is running", slog.String("version", version))

		// Wait for shutdown signal.
		<-ctx.Done()
		logger.Info("shutting down...")
		healthHandler.SetReady(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
