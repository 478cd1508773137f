package auction

import (
	"time"

	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Player standing reported by views and search.
const (
	PlayerStatusCurrent = "current"
	PlayerStatusFrozen  = "frozen"
	PlayerStatusPending = "pending"
)

// TeamView is one row of the projected team table. MaxBid is the largest
// amount the rules would accept from this team for the current player,
// zero when nothing is up for bidding.
type TeamView struct {
	Name      string `json:"name"`
	Purse     int    `json:"purse"`
	Spent     int    `json:"spent"`
	Balance   int    `json:"balance"`
	Acquired  int    `json:"acquired"`
	CapSpent  int    `json:"cap_spent"`
	CapBudget int    `json:"cap_budget"`
	MaxBid    int    `json:"max_bid"`
}

// PlayerView is a player together with its standing. Team and Amount are
// set only for frozen players.
type PlayerView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Team     string `json:"team,omitempty"`
	Amount   int    `json:"amount,omitempty"`
}

// View is the rendering of one auction for operators and observers.
// Remaining counts the players in the current round still awaiting a
// decision, the current player included.
type View struct {
	AuctionID        string       `json:"auction_id"`
	Revision         uint64       `json:"revision"`
	Status           string       `json:"status"`
	Round            int          `json:"round"`
	Current          *PlayerView  `json:"current,omitempty"`
	Remaining        int          `json:"remaining"`
	Teams            []TeamView   `json:"teams"`
	Staged           []Assignment `json:"staged,omitempty"`
	DistributionOpen bool         `json:"distribution_open"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ViewFromSnapshot renders a persisted snapshot. Staged assignments are
// never persisted, so a view built this way has none.
func ViewFromSnapshot(snap *snapshot.Snapshot) *View {
	return buildView(snap, nil)
}

func buildView(snap *snapshot.Snapshot, staged []Assignment) *View {
	states := ledger.Project(snap.Ledger, snap.Teams, snap.Config.CappedCategory)
	frozen := ledger.FrozenSet(snap.Ledger)

	v := &View{
		AuctionID: snap.AuctionID,
		Revision:  snap.Revision,
		Status:    snap.Status,
		Round:     snap.Cursor.Round,
		Staged:    staged,
		UpdatedAt: snap.UpdatedAt,
	}

	var current ledger.Player
	bidding := snap.Status == snapshot.StatusBidding
	if bidding && snap.Cursor.PlayerIndex < len(snap.Cursor.Sequence) {
		id := snap.Cursor.Sequence[snap.Cursor.PlayerIndex]
		for _, p := range snap.Players {
			if p.ID == id {
				current = p
				break
			}
		}
		v.Current = &PlayerView{
			ID:       current.ID,
			Name:     current.Name,
			Category: current.Category,
			Status:   PlayerStatusCurrent,
		}
	}

	for _, id := range snap.Cursor.Sequence {
		if !frozen[id] && ledger.Attempts(snap.Ledger, snap.Cursor.Round, id) == 0 {
			v.Remaining++
		}
	}

	minMet := true
	for _, ts := range states {
		if ts.Acquired < snap.Config.MinPlayersPerTeam {
			minMet = false
			break
		}
	}
	unsoldLeft := false
	for _, p := range snap.Players {
		if !frozen[p.ID] {
			unsoldLeft = true
			break
		}
	}
	v.DistributionOpen = bidding && minMet && unsoldLeft

	v.Teams = make([]TeamView, len(states))
	for i, ts := range states {
		tv := TeamView{
			Name:      ts.Name,
			Purse:     ts.Purse,
			Spent:     ts.Spent,
			Balance:   ts.Balance,
			Acquired:  ts.Acquired,
			CapSpent:  ts.CapSpent,
			CapBudget: snap.Config.CapBudget(ts.Purse),
		}
		if v.Current != nil {
			capped := current.Category == snap.Config.CappedCategory
			tv.MaxBid = MaxBid(ts, capped, snap.Cursor.Round, snap.Config)
		}
		v.Teams[i] = tv
	}
	return v
}

// PlayerViews lists every player with its standing: frozen players carry
// the winning team and amount, the player at the cursor is current, the
// rest are pending.
func PlayerViews(snap *snapshot.Snapshot) []PlayerView {
	sold := make(map[string]ledger.Entry)
	for _, e := range snap.Ledger {
		if e.Status == ledger.StatusSold {
			sold[e.PlayerID] = e
		}
	}
	currentID := ""
	if snap.Status == snapshot.StatusBidding && snap.Cursor.PlayerIndex < len(snap.Cursor.Sequence) {
		currentID = snap.Cursor.Sequence[snap.Cursor.PlayerIndex]
	}

	views := make([]PlayerView, len(snap.Players))
	for i, p := range snap.Players {
		pv := PlayerView{ID: p.ID, Name: p.Name, Category: p.Category, Status: PlayerStatusPending}
		if e, ok := sold[p.ID]; ok {
			pv.Status = PlayerStatusFrozen
			pv.Team = e.Team
			pv.Amount = e.Amount
		} else if p.ID == currentID {
			pv.Status = PlayerStatusCurrent
		}
		views[i] = pv
	}
	return views
}
