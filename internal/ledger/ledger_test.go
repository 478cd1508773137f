package ledger_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rostrumdev/rostrum/internal/ledger"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func entry(round int, playerID, category, team string, amount int, status ledger.Status) ledger.Entry {
	return ledger.Entry{
		ID:        playerID + "-e",
		Round:     round,
		Attempt:   1,
		Timestamp: t0,
		PlayerID:  playerID,
		Category:  category,
		Team:      team,
		Amount:    amount,
		Status:    status,
	}
}

func TestProject(t *testing.T) {
	teams := []ledger.Team{
		{Name: "Alpha", Purse: 10000},
		{Name: "Beta", Purse: 8000},
	}

	tests := []struct {
		name    string
		entries []ledger.Entry
		want    []ledger.TeamState
	}{
		{
			name:    "empty ledger yields full balances",
			entries: nil,
			want: []ledger.TeamState{
				{Name: "Alpha", Purse: 10000, Balance: 10000},
				{Name: "Beta", Purse: 8000, Balance: 8000},
			},
		},
		{
			name: "sold entries accumulate spent and acquired",
			entries: []ledger.Entry{
				entry(1, "p1", "open", "Alpha", 1200, ledger.StatusSold),
				entry(1, "p2", "open", "Alpha", 800, ledger.StatusSold),
				entry(1, "p3", "open", "Beta", 500, ledger.StatusSold),
			},
			want: []ledger.TeamState{
				{Name: "Alpha", Purse: 10000, Spent: 2000, Balance: 8000, Acquired: 2},
				{Name: "Beta", Purse: 8000, Spent: 500, Balance: 7500, Acquired: 1},
			},
		},
		{
			name: "unsold entries do not affect teams",
			entries: []ledger.Entry{
				entry(1, "p1", "open", "", 0, ledger.StatusUnsold),
				entry(1, "p2", "open", "Alpha", 300, ledger.StatusSold),
			},
			want: []ledger.TeamState{
				{Name: "Alpha", Purse: 10000, Spent: 300, Balance: 9700, Acquired: 1},
				{Name: "Beta", Purse: 8000, Balance: 8000},
			},
		},
		{
			name: "capped category tracked separately",
			entries: []ledger.Entry{
				entry(1, "p1", "capped", "Alpha", 1200, ledger.StatusSold),
				entry(1, "p2", "open", "Alpha", 700, ledger.StatusSold),
				entry(2, "p3", "capped", "Alpha", 400, ledger.StatusSold),
			},
			want: []ledger.TeamState{
				{Name: "Alpha", Purse: 10000, Spent: 2300, Balance: 7700, Acquired: 3, CapSpent: 1600},
				{Name: "Beta", Purse: 8000, Balance: 8000},
			},
		},
		{
			name: "entry for unknown team is ignored",
			entries: []ledger.Entry{
				entry(1, "p1", "open", "Ghost", 900, ledger.StatusSold),
			},
			want: []ledger.TeamState{
				{Name: "Alpha", Purse: 10000, Balance: 10000},
				{Name: "Beta", Purse: 8000, Balance: 8000},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.Project(tt.entries, teams, "capped")
			if len(got) != len(tt.want) {
				t.Fatalf("got %d states, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("state[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestProject_Deterministic(t *testing.T) {
	teams := []ledger.Team{
		{Name: "Alpha", Purse: 10000},
		{Name: "Beta", Purse: 8000},
		{Name: "Gamma", Purse: 12000},
	}
	entries := []ledger.Entry{
		entry(1, "p1", "capped", "Alpha", 1200, ledger.StatusSold),
		entry(1, "p2", "open", "", 0, ledger.StatusUnsold),
		entry(1, "p3", "open", "Beta", 2400, ledger.StatusSold),
		entry(2, "p2", "open", "Gamma", 600, ledger.StatusSold),
	}

	first, err := json.Marshal(ledger.Project(entries, teams, "capped"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(ledger.Project(entries, teams, "capped"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("projection not deterministic:\nfirst  = %s\nsecond = %s", first, second)
	}
}

func TestFrozenSet(t *testing.T) {
	entries := []ledger.Entry{
		entry(1, "p1", "open", "Alpha", 500, ledger.StatusSold),
		entry(1, "p2", "open", "", 0, ledger.StatusUnsold),
		entry(2, "p2", "open", "Beta", 300, ledger.StatusSold),
		entry(1, "p3", "open", "", 0, ledger.StatusUnsold),
	}

	frozen := ledger.FrozenSet(entries)
	if !frozen["p1"] || !frozen["p2"] {
		t.Errorf("expected p1 and p2 frozen, got %v", frozen)
	}
	if frozen["p3"] {
		t.Error("p3 has only unsold entries, must not be frozen")
	}
}

func TestAttempts(t *testing.T) {
	entries := []ledger.Entry{
		entry(1, "p1", "open", "", 0, ledger.StatusUnsold),
		entry(1, "p1", "open", "Alpha", 500, ledger.StatusSold),
		entry(2, "p1", "open", "", 0, ledger.StatusUnsold),
		entry(1, "p2", "open", "", 0, ledger.StatusUnsold),
	}

	tests := []struct {
		round    int
		playerID string
		want     int
	}{
		{1, "p1", 2},
		{2, "p1", 1},
		{1, "p2", 1},
		{3, "p1", 0},
		{1, "p9", 0},
	}
	for _, tt := range tests {
		if got := ledger.Attempts(entries, tt.round, tt.playerID); got != tt.want {
			t.Errorf("Attempts(round=%d, player=%s) = %d, want %d", tt.round, tt.playerID, got, tt.want)
		}
	}
}

func TestLatestInRound(t *testing.T) {
	entries := []ledger.Entry{
		entry(1, "p1", "open", "", 0, ledger.StatusUnsold),
		entry(1, "p1", "open", "Alpha", 500, ledger.StatusSold),
		entry(1, "p2", "open", "", 0, ledger.StatusUnsold),
		entry(2, "p2", "open", "Beta", 200, ledger.StatusSold),
	}

	latest := ledger.LatestInRound(entries, 1)
	if got := latest["p1"].Status; got != ledger.StatusSold {
		t.Errorf("latest p1 in round 1 = %s, want sold", got)
	}
	if got := latest["p2"].Status; got != ledger.StatusUnsold {
		t.Errorf("latest p2 in round 1 = %s, want unsold", got)
	}
	if _, ok := latest["p3"]; ok {
		t.Error("p3 has no round 1 entries")
	}
}
