package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Lifecycle errors returned by the Manager.
var (
	ErrNotFound = errors.New("auction not found")
	ErrExists   = errors.New("auction already exists")
)

// Pusher receives the snapshot produced by each mutation. Offers must
// not block; a slow store never stalls the auction.
type Pusher interface {
	Offer(snap *snapshot.Snapshot)
}

// PusherFunc adapts a function to the Pusher interface.
type PusherFunc func(snap *snapshot.Snapshot)

func (f PusherFunc) Offer(snap *snapshot.Snapshot) { f(snap) }

// Loader fetches the latest persisted snapshot for an auction.
type Loader interface {
	Get(ctx context.Context, auctionID string) (*snapshot.Snapshot, error)
}

// Setup is the import payload that creates an auction.
type Setup struct {
	AuctionID string           `json:"auction_id,omitempty"`
	Players   []ledger.Player  `json:"players"`
	Teams     []ledger.Team    `json:"teams"`
	Config    *snapshot.Config `json:"config,omitempty"`
}

// Manager owns the live auctions and ties every mutation to the
// snapshot pipeline: mutate, push the new snapshot, return the view.
type Manager struct {
	mu       sync.RWMutex
	auctions map[string]*Auction

	defaults snapshot.Config
	pusher   Pusher
	loader   Loader
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewManager creates a Manager. The pusher and loader may be nil in
// tests; a nil pusher drops snapshots, a nil loader refuses resumes.
func NewManager(defaults snapshot.Config, pusher Pusher, loader Loader, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		auctions: make(map[string]*Auction),
		defaults: defaults,
		pusher:   pusher,
		loader:   loader,
		logger:   logger,
		tracer:   tp.Tracer("github.com/rostrumdev/rostrum/internal/auction"),
		clock:    clk,
	}
}

// Create starts a new auction from an import payload and pushes its
// initial snapshot. Omitted fields fall back to the configured defaults.
func (m *Manager) Create(ctx context.Context, setup Setup) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.Int("players", len(setup.Players)),
			attribute.Int("teams", len(setup.Teams)),
		),
	)
	defer span.End()

	id := setup.AuctionID
	if id == "" {
		id = uuid.NewString()
	}
	cfg := m.defaults
	if setup.Config != nil {
		cfg = *setup.Config
	}

	a, err := New(ctx, id, setup.Players, setup.Teams, cfg, m.clock)
	if err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.auctions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("auction %s: %w", id, ErrExists)
	}
	m.auctions[id] = a
	m.mu.Unlock()

	m.push(a.Snapshot())
	m.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", id),
		slog.Int("players", len(setup.Players)),
		slog.Int("teams", len(setup.Teams)),
	)
	return a.View(), nil
}

// Resume rebuilds an auction from its latest persisted snapshot and
// registers it, replacing any in-memory copy. Team state comes from
// re-projecting the restored ledger, never from the stored balances.
func (m *Manager) Resume(ctx context.Context, auctionID string) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Resume",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if m.loader == nil {
		return nil, fmt.Errorf("resuming auction %s: no snapshot loader", auctionID)
	}
	snap, err := m.loader.Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("resuming auction %s: %w", auctionID, err)
	}
	a, err := Restore(snap, m.clock)
	if err != nil {
		return nil, fmt.Errorf("resuming auction %s: %w", auctionID, err)
	}

	m.mu.Lock()
	m.auctions[auctionID] = a
	m.mu.Unlock()

	// Re-offer the restored snapshot so observers and lagging tiers catch up.
	m.push(a.Snapshot())

	m.logger.InfoContext(ctx, "auction resumed",
		slog.String("auction_id", auctionID),
		slog.Uint64("revision", snap.Revision),
		slog.Int("ledger_entries", len(snap.Ledger)),
	)
	return a.View(), nil
}

// Bid sells the current player to a team.
func (m *Manager) Bid(ctx context.Context, auctionID, team string, amount int) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Bid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("team", team),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	snap, err := a.Bid(ctx, team, amount)
	if err != nil {
		return nil, err
	}
	m.push(snap)
	return a.View(), nil
}

// MarkUnsold passes on the current player.
func (m *Manager) MarkUnsold(ctx context.Context, auctionID string) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.MarkUnsold",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	snap, err := a.MarkUnsold(ctx)
	if err != nil {
		return nil, err
	}
	m.push(snap)
	return a.View(), nil
}

// Undo reverses the most recent ledger entry.
func (m *Manager) Undo(ctx context.Context, auctionID string) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Undo",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	snap, err := a.Undo(ctx)
	if err != nil {
		return nil, err
	}
	m.push(snap)
	return a.View(), nil
}

// Stage records a pending distribution assignment. Stages live in
// memory only, so nothing is pushed until the distribution is confirmed.
func (m *Manager) Stage(ctx context.Context, auctionID, playerID, team string, amount int) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Stage",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("player_id", playerID),
			attribute.String("team", team),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	if err := a.Stage(ctx, playerID, team, amount); err != nil {
		return nil, err
	}
	return a.View(), nil
}

// Withdraw removes a staged distribution assignment.
func (m *Manager) Withdraw(ctx context.Context, auctionID, playerID string) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Withdraw",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	if err := a.Withdraw(ctx, playerID); err != nil {
		return nil, err
	}
	return a.View(), nil
}

// ConfirmDistribution commits the staged assignments and completes the
// auction.
func (m *Manager) ConfirmDistribution(ctx context.Context, auctionID string) (*View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ConfirmDistribution",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	snap, err := a.ConfirmDistribution(ctx)
	if err != nil {
		return nil, err
	}
	m.push(snap)
	return a.View(), nil
}

// View renders a registered auction.
func (m *Manager) View(auctionID string) (*View, error) {
	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	return a.View(), nil
}

// Snapshot returns the current persisted form of a registered auction
// without touching its revision.
func (m *Manager) Snapshot(auctionID string) (*snapshot.Snapshot, error) {
	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	return a.Snapshot(), nil
}

// Export returns the chronological ledger of a registered auction.
func (m *Manager) Export(auctionID string) ([]ledger.Entry, error) {
	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	return a.Export(), nil
}

// SearchPlayers lists players ranked by fuzzy match against the query.
// An empty query lists everyone in load order.
func (m *Manager) SearchPlayers(auctionID, query string) ([]PlayerView, error) {
	a, err := m.get(auctionID)
	if err != nil {
		return nil, err
	}
	views := PlayerViews(a.Snapshot())
	if query == "" {
		return views, nil
	}

	names := make([]string, len(views))
	for i, v := range views {
		names[i] = v.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Sort(ranks)

	matched := make([]PlayerView, 0, len(ranks))
	for _, r := range ranks {
		matched = append(matched, views[r.OriginalIndex])
	}
	return matched, nil
}

func (m *Manager) get(auctionID string) (*Auction, error) {
	m.mu.RLock()
	a, ok := m.auctions[auctionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	return a, nil
}

func (m *Manager) push(snap *snapshot.Snapshot) {
	if m.pusher == nil {
		return
	}
	m.pusher.Offer(snap)
}
