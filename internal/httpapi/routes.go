// Package httpapi exposes the operator and observer surfaces over HTTP.
// It is a thin adapter: every rule lives in internal/auction, and the
// handlers only translate between JSON and manager calls.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/rostrumdev/rostrum/internal/auction"
	"github.com/rostrumdev/rostrum/internal/health"
	"github.com/rostrumdev/rostrum/internal/observer"
)

// Server bundles the auction manager and the observer surfaces behind
// one router.
type Server struct {
	manager *auction.Manager
	feed    *observer.Feed
	hub     *observer.Hub
	loader  auction.Loader
	logger  *slog.Logger
}

// NewServer builds a Server. loader serves websocket joins for auctions
// this process does not host; nil limits the websocket to local auctions.
func NewServer(manager *auction.Manager, feed *observer.Feed, hub *observer.Hub, loader auction.Loader, logger *slog.Logger) *Server {
	return &Server{
		manager: manager,
		feed:    feed,
		hub:     hub,
		loader:  loader,
		logger:  logger,
	}
}

// Routes assembles the router: operator API, observer websocket and the
// health probes, wrapped in CORS for browser observers.
func (s *Server) Routes(healthHandler *health.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Route("/api/auctions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{auctionID}", func(r chi.Router) {
			r.Get("/", s.handleView)
			r.Post("/resume", s.handleResume)
			r.Post("/bid", s.handleBid)
			r.Post("/unsold", s.handleUnsold)
			r.Post("/undo", s.handleUndo)
			r.Post("/distribution/stage", s.handleStage)
			r.Post("/distribution/withdraw", s.handleWithdraw)
			r.Post("/distribution/confirm", s.handleConfirm)
			r.Get("/players", s.handlePlayers)
			r.Get("/export", s.handleExport)
		})
	})
	r.Get("/ws/auctions/{auctionID}", s.handleObserve)
	r.Get("/healthz", healthHandler.LivenessHandler())
	r.Get("/readyz", healthHandler.ReadinessHandler())

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}
