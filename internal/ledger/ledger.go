package ledger

import (
	"time"
)

// Status marks how a ledger entry decided a player.
type Status string

const (
	StatusSold   Status = "sold"
	StatusUnsold Status = "unsold"
)

// Entry is a single bid decision. Entries are append-only; the only
// permitted removal is an undo of the most recent entry.
type Entry struct {
	ID        string    `json:"id"`
	Round     int       `json:"round"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	PlayerID  string    `json:"player_id"`
	Category  string    `json:"category"`
	Team      string    `json:"team,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Status    Status    `json:"status"`
}

// Player is an immutable item up for auction. Category drives the
// cap-budget rule; Attrs are descriptive only. Photo holds the raw
// image bytes; PhotoRef points at an externally stored copy when the
// bytes have been split out.
type Player struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Photo    []byte            `json:"photo,omitempty"`
	PhotoRef string            `json:"photo_ref,omitempty"`
}

// Team is a bidder. Purse is set once at auction creation; spendable
// balance is always derived from the ledger, never stored.
type Team struct {
	Name    string `json:"name"`
	Purse   int    `json:"purse"`
	Logo    []byte `json:"logo,omitempty"`
	LogoRef string `json:"logo_ref,omitempty"`
}

// TeamState is the projection of the ledger for one team.
type TeamState struct {
	Name     string `json:"name"`
	Purse    int    `json:"purse"`
	Spent    int    `json:"spent"`
	Balance  int    `json:"balance"`
	Acquired int    `json:"acquired"`
	CapSpent int    `json:"cap_spent"`
}

// Project folds the ledger into per-team state. The result preserves
// the order of teams and depends only on the inputs, so re-projecting
// after a resume always reproduces the same state.
func Project(entries []Entry, teams []Team, cappedCategory string) []TeamState {
	states := make([]TeamState, len(teams))
	index := make(map[string]int, len(teams))
	for i, t := range teams {
		states[i] = TeamState{Name: t.Name, Purse: t.Purse, Balance: t.Purse}
		index[t.Name] = i
	}

	for _, e := range entries {
		if e.Status != StatusSold {
			continue
		}
		i, ok := index[e.Team]
		if !ok {
			continue
		}
		states[i].Spent += e.Amount
		states[i].Balance -= e.Amount
		states[i].Acquired++
		if e.Category == cappedCategory {
			states[i].CapSpent += e.Amount
		}
	}
	return states
}

// FrozenSet returns the ids of players with a sold entry anywhere in
// the ledger. A frozen player is permanently excluded from bidding.
func FrozenSet(entries []Entry) map[string]bool {
	frozen := make(map[string]bool)
	for _, e := range entries {
		if e.Status == StatusSold {
			frozen[e.PlayerID] = true
		}
	}
	return frozen
}

// Attempts counts the entries already recorded for a player within a
// round. The next entry for the player carries Attempts+1.
func Attempts(entries []Entry, round int, playerID string) int {
	n := 0
	for _, e := range entries {
		if e.Round == round && e.PlayerID == playerID {
			n++
		}
	}
	return n
}

// LatestInRound returns the most recent entry for each player within a
// round, keyed by player id.
func LatestInRound(entries []Entry, round int) map[string]Entry {
	latest := make(map[string]Entry)
	for _, e := range entries {
		if e.Round == round {
			latest[e.PlayerID] = e
		}
	}
	return latest
}
