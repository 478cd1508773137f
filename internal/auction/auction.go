// Package auction implements the live auction: the append-only ledger of
// decisions, the bid rules, the round state machine with its cursor, the
// end-of-auction distribution, and the snapshot build/restore that makes
// the whole thing resumable on another process.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

var tracer = otel.Tracer("github.com/rostrumdev/rostrum/internal/auction")

// Errors returned by auction operations.
var (
	ErrComplete           = errors.New("auction is complete")
	ErrUnknownTeam        = errors.New("unknown team")
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrDistributionClosed = errors.New("distribution requires every team at its minimum and an unsold player")
	ErrTeamIneligible     = errors.New("team is not eligible for distribution")
	ErrPlayerFrozen       = errors.New("player is already sold")
	ErrAlreadyStaged      = errors.New("player already has a staged assignment")
	ErrNotStaged          = errors.New("player has no staged assignment")
	ErrNothingStaged      = errors.New("no staged assignments to confirm")
)

// Assignment is one staged distribution allocation.
type Assignment struct {
	PlayerID string `json:"player_id"`
	Team     string `json:"team"`
	Amount   int    `json:"amount"`
}

// Auction is the aggregate root for one live auction. It is safe for
// concurrent use; every mutation returns the snapshot to persist.
type Auction struct {
	mu sync.Mutex

	id      string
	status  string
	config  snapshot.Config
	teams   []ledger.Team
	players []ledger.Player

	entries  []ledger.Entry
	round    int
	index    int
	sequence []string
	deferred []string

	// staged distribution assignments live only in memory until
	// ConfirmDistribution commits them.
	staged []Assignment

	revision  uint64
	updatedAt time.Time

	byID map[string]int
	clk  clock.Clock
}

// New starts an auction at round 1 with the full player list as the
// opening sequence, in load order.
func New(ctx context.Context, id string, players []ledger.Player, teams []ledger.Team, cfg snapshot.Config, clk clock.Clock) (*Auction, error) {
	if id == "" {
		return nil, errors.New("empty auction id")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(teams) < 2 {
		return nil, fmt.Errorf("need at least two teams, have %d", len(teams))
	}
	names := make(map[string]bool, len(teams))
	for _, t := range teams {
		if t.Name == "" {
			return nil, errors.New("team with empty name")
		}
		if names[t.Name] {
			return nil, fmt.Errorf("duplicate team %q", t.Name)
		}
		if t.Purse <= 0 {
			return nil, fmt.Errorf("team %q has non-positive purse %d", t.Name, t.Purse)
		}
		names[t.Name] = true
	}
	if len(players) == 0 {
		return nil, errors.New("no players")
	}
	ids := make(map[string]bool, len(players))
	for _, p := range players {
		if p.ID == "" {
			return nil, errors.New("player with empty id")
		}
		if ids[p.ID] {
			return nil, fmt.Errorf("duplicate player %q", p.ID)
		}
		ids[p.ID] = true
	}

	a := &Auction{
		id:        id,
		status:    snapshot.StatusBidding,
		config:    cfg,
		teams:     slices.Clone(teams),
		players:   slices.Clone(players),
		round:     1,
		updatedAt: clk.Now().UTC(),
		clk:       clk,
	}
	a.sequence = make([]string, len(players))
	for i, p := range players {
		a.sequence[i] = p.ID
	}
	a.reindex()
	a.settle(ctx)
	return a, nil
}

// Restore rebuilds an auction from a validated snapshot. Team state is
// re-derived from the ledger on demand, never read from a cached copy.
func Restore(snap *snapshot.Snapshot, clk clock.Clock) (*Auction, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	a := &Auction{
		id:        snap.AuctionID,
		status:    snap.Status,
		config:    snap.Config,
		teams:     slices.Clone(snap.Teams),
		players:   slices.Clone(snap.Players),
		entries:   slices.Clone(snap.Ledger),
		round:     snap.Cursor.Round,
		index:     snap.Cursor.PlayerIndex,
		sequence:  slices.Clone(snap.Cursor.Sequence),
		deferred:  slices.Clone(snap.Cursor.Deferred),
		revision:  snap.Revision,
		updatedAt: snap.UpdatedAt,
		clk:       clk,
	}
	a.reindex()
	return a, nil
}

// ID returns the auction identifier.
func (a *Auction) ID() string { return a.id }

// Bid sells the current player to the team for the amount, if the rules
// allow it, and advances the cursor.
func (a *Auction) Bid(ctx context.Context, team string, amount int) (*snapshot.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Auction.Bid",
		trace.WithAttributes(
			attribute.String("auction_id", a.id),
			attribute.String("team", team),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != snapshot.StatusBidding {
		return nil, ErrComplete
	}
	ts, ok := a.teamStateLocked(team)
	if !ok {
		return nil, fmt.Errorf("team %q: %w", team, ErrUnknownTeam)
	}

	p := a.currentLocked()
	capped := p.Category == a.config.CappedCategory
	if rej := ValidateBid(ts, team, amount, capped, a.round, a.config); rej != nil {
		span.SetAttributes(attribute.String("rejection", rej.Code()))
		return nil, rej
	}

	a.entries = append(a.entries, a.entryFor(p, team, amount, ledger.StatusSold))
	slog.InfoContext(ctx, "player sold",
		slog.String("auction_id", a.id),
		slog.String("player_id", p.ID),
		slog.String("team", team),
		slog.Int("amount", amount),
		slog.Int("round", a.round),
	)
	a.advance(ctx)
	return a.bump(), nil
}

// MarkUnsold records that nobody bought the current player and advances
// the cursor. The player returns in the next round.
func (a *Auction) MarkUnsold(ctx context.Context) (*snapshot.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Auction.MarkUnsold",
		trace.WithAttributes(attribute.String("auction_id", a.id)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != snapshot.StatusBidding {
		return nil, ErrComplete
	}

	p := a.currentLocked()
	a.entries = append(a.entries, a.entryFor(p, "", 0, ledger.StatusUnsold))
	slog.InfoContext(ctx, "player unsold",
		slog.String("auction_id", a.id),
		slog.String("player_id", p.ID),
		slog.Int("round", a.round),
	)
	a.advance(ctx)
	return a.bump(), nil
}

// Undo removes the single most recent ledger entry and returns the
// cursor to the undone player. There is no multi-step undo, and it is
// refused once the auction is complete.
func (a *Auction) Undo(ctx context.Context) (*snapshot.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Auction.Undo",
		trace.WithAttributes(attribute.String("auction_id", a.id)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != snapshot.StatusBidding {
		return nil, ErrComplete
	}
	if len(a.entries) == 0 {
		return nil, ErrNothingToUndo
	}

	last := a.entries[len(a.entries)-1]
	if last.Round != a.round {
		// The undone decision closed its round. Players are decided
		// strictly in sequence order, so that round's sequence is the
		// order of first entries, and every round-1 player without an
		// entry must have been deferred.
		a.round = last.Round
		a.sequence = a.roundSequenceLocked(last.Round)
		a.deferred = a.roundDeferredLocked(last.Round)
	}
	a.entries = a.entries[:len(a.entries)-1]

	if ledger.Attempts(a.entries, last.Round, last.PlayerID) == 0 {
		if i := slices.Index(a.sequence, last.PlayerID); i >= 0 {
			a.index = i
		}
	}

	slog.InfoContext(ctx, "entry undone",
		slog.String("auction_id", a.id),
		slog.String("player_id", last.PlayerID),
		slog.String("status", string(last.Status)),
		slog.Int("round", last.Round),
	)
	return a.bump(), nil
}

// Stage records a pending distribution assignment.
func (a *Auction) Stage(ctx context.Context, playerID, team string, amount int) error {
	_, span := tracer.Start(ctx, "Auction.Stage",
		trace.WithAttributes(
			attribute.String("auction_id", a.id),
			attribute.String("player_id", playerID),
			attribute.String("team", team),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != snapshot.StatusBidding {
		return ErrComplete
	}
	if !a.distributionOpenLocked() {
		return ErrDistributionClosed
	}
	if _, ok := a.byID[playerID]; !ok {
		return fmt.Errorf("player %q: %w", playerID, ErrUnknownPlayer)
	}
	if ledger.FrozenSet(a.entries)[playerID] {
		return fmt.Errorf("player %q: %w", playerID, ErrPlayerFrozen)
	}
	for _, s := range a.staged {
		if s.PlayerID == playerID {
			return fmt.Errorf("player %q: %w", playerID, ErrAlreadyStaged)
		}
	}

	ts, ok := a.teamStateLocked(team)
	if !ok {
		return fmt.Errorf("team %q: %w", team, ErrUnknownTeam)
	}
	// Earlier stages count against the team before they are committed.
	acquired, balance := ts.Acquired, ts.Balance
	for _, s := range a.staged {
		if s.Team == team {
			acquired++
			balance -= s.Amount
		}
	}
	if acquired < a.config.MinPlayersPerTeam || acquired >= a.config.MaxPlayersPerTeam {
		return fmt.Errorf("team %q: %w", team, ErrTeamIneligible)
	}

	// Distribution bypasses reserve and cap; zero is a legal amount.
	inc := a.config.BidIncrement
	if amount < 0 || amount%inc != 0 {
		nearest := 0
		if amount > 0 {
			nearest = (amount + inc/2) / inc * inc
		}
		return &Rejection{Reason: ErrNotAMultiple, Team: team, Amount: amount, Nearest: nearest}
	}
	if amount > balance {
		return &Rejection{Reason: ErrExceedsBalance, Team: team, Amount: amount, Limit: max(0, balance)}
	}

	a.staged = append(a.staged, Assignment{PlayerID: playerID, Team: team, Amount: amount})
	return nil
}

// Withdraw removes a staged assignment before it is confirmed.
func (a *Auction) Withdraw(ctx context.Context, playerID string) error {
	_, span := tracer.Start(ctx, "Auction.Withdraw",
		trace.WithAttributes(
			attribute.String("auction_id", a.id),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.staged {
		if s.PlayerID == playerID {
			a.staged = slices.Delete(a.staged, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("player %q: %w", playerID, ErrNotStaged)
}

// ConfirmDistribution commits every staged assignment as a sold entry in
// one batch at the current round and completes the auction.
func (a *Auction) ConfirmDistribution(ctx context.Context) (*snapshot.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Auction.ConfirmDistribution",
		trace.WithAttributes(attribute.String("auction_id", a.id)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != snapshot.StatusBidding {
		return nil, ErrComplete
	}
	if len(a.staged) == 0 {
		return nil, ErrNothingStaged
	}
	// A staged player may have been sold at the block since staging.
	frozen := ledger.FrozenSet(a.entries)
	for _, s := range a.staged {
		if frozen[s.PlayerID] {
			return nil, fmt.Errorf("player %q: %w", s.PlayerID, ErrPlayerFrozen)
		}
	}

	for _, s := range a.staged {
		p := a.players[a.byID[s.PlayerID]]
		a.entries = append(a.entries, a.entryFor(p, s.Team, s.Amount, ledger.StatusSold))
	}
	n := len(a.staged)
	a.staged = nil
	a.status = snapshot.StatusComplete
	a.sequence = nil
	a.index = 0

	slog.InfoContext(ctx, "distribution confirmed",
		slog.String("auction_id", a.id),
		slog.Int("assignments", n),
		slog.Int("round", a.round),
	)
	return a.bump(), nil
}

// Snapshot returns the current persisted form of the auction.
func (a *Auction) Snapshot() *snapshot.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// View renders the auction for operators, staged assignments included.
func (a *Auction) View() *View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return buildView(a.snapshotLocked(), slices.Clone(a.staged))
}

// Export returns the ledger in chronological order.
func (a *Auction) Export() []ledger.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.entries)
}

// advance moves the cursor off a just-decided player.
func (a *Auction) advance(ctx context.Context) {
	a.index++
	a.settle(ctx)
}

// settle rests the cursor on the next undecided player, deferring
// unbiddable capped players out of round 1 and rolling the round over
// when the sequence is exhausted.
func (a *Auction) settle(ctx context.Context) {
	frozen := ledger.FrozenSet(a.entries)
	for {
		for a.index < len(a.sequence) {
			id := a.sequence[a.index]
			if frozen[id] || ledger.Attempts(a.entries, a.round, id) > 0 {
				a.index++
				continue
			}
			if !a.deferLocked(id) {
				return
			}
			a.sequence = slices.Delete(a.sequence, a.index, a.index+1)
			a.deferred = append(a.deferred, id)
			slog.InfoContext(ctx, "capped player deferred to next round",
				slog.String("auction_id", a.id),
				slog.String("player_id", id),
			)
		}
		if !a.rolloverLocked(ctx) {
			return
		}
	}
}

// deferLocked reports whether the player cannot be auctioned in round 1
// because no team has a full increment of cap headroom left.
func (a *Auction) deferLocked(id string) bool {
	if a.round != 1 {
		return false
	}
	if a.players[a.byID[id]].Category != a.config.CappedCategory {
		return false
	}
	for _, ts := range a.projectLocked() {
		if a.config.CapBudget(ts.Purse)-ts.CapSpent >= a.config.BidIncrement {
			return false
		}
	}
	return true
}

// rolloverLocked re-seeds the next round with the players whose latest
// decision this round was unsold, with any deferred players folded in at
// the end. An empty next sequence completes the auction.
func (a *Auction) rolloverLocked(ctx context.Context) bool {
	frozen := ledger.FrozenSet(a.entries)
	latest := ledger.LatestInRound(a.entries, a.round)
	var next []string
	for _, id := range a.sequence {
		if frozen[id] {
			continue
		}
		if e, ok := latest[id]; ok && e.Status == ledger.StatusUnsold {
			next = append(next, id)
		}
	}
	next = append(next, a.deferred...)
	a.deferred = nil

	if len(next) == 0 {
		a.status = snapshot.StatusComplete
		a.sequence = nil
		a.index = 0
		slog.InfoContext(ctx, "auction complete",
			slog.String("auction_id", a.id),
			slog.Int("rounds", a.round),
		)
		return false
	}

	a.round++
	a.sequence = next
	a.index = 0
	slog.InfoContext(ctx, "round rolled over",
		slog.String("auction_id", a.id),
		slog.Int("round", a.round),
		slog.Int("players", len(next)),
	)
	return true
}

// roundSequenceLocked reconstructs a completed round's sequence as the
// order of first entries per player in that round.
func (a *Auction) roundSequenceLocked(round int) []string {
	var seq []string
	seen := make(map[string]bool)
	for _, e := range a.entries {
		if e.Round != round || seen[e.PlayerID] {
			continue
		}
		seen[e.PlayerID] = true
		seq = append(seq, e.PlayerID)
	}
	return seq
}

// roundDeferredLocked reconstructs the deferred list for a round: every
// player with no entry there was deferred, since round 1 opens with the
// full player list. Later rounds never defer.
func (a *Auction) roundDeferredLocked(round int) []string {
	if round != 1 {
		return nil
	}
	decided := make(map[string]bool)
	for _, e := range a.entries {
		if e.Round == 1 {
			decided[e.PlayerID] = true
		}
	}
	var def []string
	for _, p := range a.players {
		if !decided[p.ID] {
			def = append(def, p.ID)
		}
	}
	return def
}

// distributionOpenLocked reports whether forced distribution may run:
// every team has reached its minimum and somebody is still unsold.
func (a *Auction) distributionOpenLocked() bool {
	if a.status != snapshot.StatusBidding {
		return false
	}
	for _, ts := range a.projectLocked() {
		if ts.Acquired < a.config.MinPlayersPerTeam {
			return false
		}
	}
	frozen := ledger.FrozenSet(a.entries)
	for _, p := range a.players {
		if !frozen[p.ID] {
			return true
		}
	}
	return false
}

func (a *Auction) entryFor(p ledger.Player, team string, amount int, status ledger.Status) ledger.Entry {
	return ledger.Entry{
		ID:        uuid.NewString(),
		Round:     a.round,
		Attempt:   ledger.Attempts(a.entries, a.round, p.ID) + 1,
		Timestamp: a.clk.Now().UTC(),
		PlayerID:  p.ID,
		Category:  p.Category,
		Team:      team,
		Amount:    amount,
		Status:    status,
	}
}

// bump seals a mutation: it advances the revision, stamps the time, and
// returns the snapshot to persist.
func (a *Auction) bump() *snapshot.Snapshot {
	a.revision++
	a.updatedAt = a.clk.Now().UTC()
	return a.snapshotLocked()
}

func (a *Auction) snapshotLocked() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		SchemaVersion: snapshot.SchemaVersion,
		AuctionID:     a.id,
		Revision:      a.revision,
		Status:        a.status,
		Cursor: snapshot.Cursor{
			Round:       a.round,
			PlayerIndex: a.index,
			Sequence:    slices.Clone(a.sequence),
			Deferred:    slices.Clone(a.deferred),
		},
		Ledger:    slices.Clone(a.entries),
		Teams:     slices.Clone(a.teams),
		Players:   slices.Clone(a.players),
		Config:    a.config,
		UpdatedAt: a.updatedAt,
	}
}

func (a *Auction) projectLocked() []ledger.TeamState {
	return ledger.Project(a.entries, a.teams, a.config.CappedCategory)
}

func (a *Auction) teamStateLocked(name string) (ledger.TeamState, bool) {
	for _, ts := range a.projectLocked() {
		if ts.Name == name {
			return ts, true
		}
	}
	return ledger.TeamState{}, false
}

func (a *Auction) currentLocked() ledger.Player {
	return a.players[a.byID[a.sequence[a.index]]]
}

func (a *Auction) reindex() {
	a.byID = make(map[string]int, len(a.players))
	for i, p := range a.players {
		a.byID[p.ID] = i
	}
}
