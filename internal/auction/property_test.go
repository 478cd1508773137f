package auction_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/rostrumdev/rostrum/internal/auction"
	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// TestProperty_LedgerInvariantsUnderRandomOps drives a random auction
// through random bid, unsold and undo operations and checks the ledger
// invariants after every step: a player is sold at most once, balances
// are purse minus spend and never negative, the reserve survives every
// accepted bid, and a snapshot round-trip reproduces the exact bytes.
func TestProperty_LedgerInvariantsUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()

		inc := rapid.SampledFrom([]int{25, 50, 100}).Draw(t, "increment")
		maxPer := rapid.IntRange(1, 4).Draw(t, "maxPerTeam")
		minPer := rapid.IntRange(0, min(2, maxPer)).Draw(t, "minPerTeam")
		capPct := rapid.SampledFrom([]int{0, 10, 50, 65, 100}).Draw(t, "capPct")
		cfg := snapshot.Config{
			MinPlayersPerTeam: minPer,
			MaxPlayersPerTeam: maxPer,
			CapBudgetPercent:  capPct,
			BidIncrement:      inc,
			CappedCategory:    "capped",
		}

		numTeams := rapid.IntRange(2, 4).Draw(t, "numTeams")
		teams := make([]ledger.Team, numTeams)
		for i := range teams {
			purse := rapid.IntRange(5, 60).Draw(t, fmt.Sprintf("purse-%d", i)) * inc
			teams[i] = ledger.Team{Name: fmt.Sprintf("team-%d", i), Purse: purse}
		}

		numPlayers := rapid.IntRange(1, 8).Draw(t, "numPlayers")
		players := make([]ledger.Player, numPlayers)
		for i := range players {
			category := "open"
			if rapid.Bool().Draw(t, fmt.Sprintf("capped-%d", i)) {
				category = "capped"
			}
			players[i] = ledger.Player{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Player %d", i), Category: category}
		}

		a, err := auction.New(ctx, "prop", players, teams, cfg, testClk)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		lastRev := a.Snapshot().Revision

		checkInvariants := func(a *auction.Auction) {
			t.Helper()
			v := a.View()
			entries := a.Export()

			soldBy := make(map[string]int, numPlayers)
			spentBy := make(map[string]int, numTeams)
			countBy := make(map[string]int, numTeams)
			for _, e := range entries {
				if e.Status != ledger.StatusSold {
					continue
				}
				soldBy[e.PlayerID]++
				if soldBy[e.PlayerID] > 1 {
					t.Fatalf("player %s sold %d times", e.PlayerID, soldBy[e.PlayerID])
				}
				spentBy[e.Team] += e.Amount
				countBy[e.Team]++
			}

			for _, tv := range v.Teams {
				if tv.Balance != tv.Purse-tv.Spent {
					t.Fatalf("team %s balance %d != purse %d - spent %d", tv.Name, tv.Balance, tv.Purse, tv.Spent)
				}
				if tv.Balance < 0 {
					t.Fatalf("team %s balance went negative: %d", tv.Name, tv.Balance)
				}
				if tv.Spent != spentBy[tv.Name] {
					t.Fatalf("team %s spent %d, ledger says %d", tv.Name, tv.Spent, spentBy[tv.Name])
				}
				if tv.Acquired != countBy[tv.Name] {
					t.Fatalf("team %s acquired %d, ledger says %d", tv.Name, tv.Acquired, countBy[tv.Name])
				}
				if tv.Acquired > maxPer {
					t.Fatalf("team %s holds %d players, roster max is %d", tv.Name, tv.Acquired, maxPer)
				}
			}

			if v.Current != nil && soldBy[v.Current.ID] > 0 {
				t.Fatalf("sold player %s is back on the block", v.Current.ID)
			}
			if v.Status == snapshot.StatusComplete && len(soldBy) != numPlayers {
				t.Fatalf("auction complete with %d of %d players sold", len(soldBy), numPlayers)
			}

			snap := a.Snapshot()
			raw, err := snap.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			restored, err := auction.Restore(snap, testClk)
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			again, err := restored.Snapshot().Encode()
			if err != nil {
				t.Fatalf("Encode() after restore error = %v", err)
			}
			if !bytes.Equal(raw, again) {
				t.Fatalf("snapshot drifted across restore:\n%s\n%s", raw, again)
			}
		}
		checkInvariants(a)

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if a.View().Status == snapshot.StatusComplete {
				break
			}
			op := rapid.SampledFrom([]string{"bid", "bid", "unsold", "undo"}).Draw(t, fmt.Sprintf("op-%d", i))
			switch op {
			case "bid":
				team := teams[rapid.IntRange(0, numTeams-1).Draw(t, fmt.Sprintf("team-%d", i))].Name
				amount := rapid.IntRange(0, 12).Draw(t, fmt.Sprintf("amount-%d", i)) * inc
				snap, err := a.Bid(ctx, team, amount)
				if err != nil {
					var rej *auction.Rejection
					if !errors.As(err, &rej) {
						t.Fatalf("Bid() error %v is not a rejection", err)
					}
					break
				}
				if snap.Revision != lastRev+1 {
					t.Fatalf("revision %d after bid, want %d", snap.Revision, lastRev+1)
				}
				lastRev = snap.Revision
				for _, tv := range a.View().Teams {
					if tv.Name != team {
						continue
					}
					if reserve := max(0, minPer-tv.Acquired) * inc; tv.Balance < reserve {
						t.Fatalf("team %s balance %d below reserve %d after winning bid", team, tv.Balance, reserve)
					}
				}
			case "unsold":
				snap, err := a.MarkUnsold(ctx)
				if err != nil {
					t.Fatalf("MarkUnsold() error = %v", err)
				}
				if snap.Revision != lastRev+1 {
					t.Fatalf("revision %d after unsold, want %d", snap.Revision, lastRev+1)
				}
				lastRev = snap.Revision
			case "undo":
				snap, err := a.Undo(ctx)
				if errors.Is(err, auction.ErrNothingToUndo) {
					break
				}
				if err != nil {
					t.Fatalf("Undo() error = %v", err)
				}
				if snap.Revision != lastRev+1 {
					t.Fatalf("revision %d after undo, want %d", snap.Revision, lastRev+1)
				}
				lastRev = snap.Revision
			}
			checkInvariants(a)
		}
	})
}

// TestProperty_MaxBidIsTheValidatorThreshold checks that MaxBid and
// ValidateBid agree on every coherent team state: amounts up to the
// maximum pass, anything above it fails.
func TestProperty_MaxBidIsTheValidatorThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		inc := rapid.SampledFrom([]int{25, 50, 100}).Draw(t, "increment")
		maxPer := rapid.IntRange(1, 6).Draw(t, "maxPerTeam")
		minPer := rapid.IntRange(0, min(3, maxPer)).Draw(t, "minPerTeam")
		capPct := rapid.IntRange(0, 100).Draw(t, "capPct")
		cfg := snapshot.Config{
			MinPlayersPerTeam: minPer,
			MaxPlayersPerTeam: maxPer,
			CapBudgetPercent:  capPct,
			BidIncrement:      inc,
			CappedCategory:    "capped",
		}

		purse := rapid.IntRange(1, 100).Draw(t, "purse") * inc
		acquired := rapid.IntRange(0, maxPer).Draw(t, "acquired")
		spent := 0
		if acquired > 0 {
			spent = rapid.IntRange(0, purse/inc).Draw(t, "spent") * inc
		}
		capSpent := rapid.IntRange(0, spent/inc).Draw(t, "capSpent") * inc
		ts := ledger.TeamState{
			Name:     "team-0",
			Purse:    purse,
			Spent:    spent,
			Balance:  purse - spent,
			Acquired: acquired,
			CapSpent: capSpent,
		}

		capped := rapid.Bool().Draw(t, "capped")
		round := rapid.SampledFrom([]int{1, 2, 3}).Draw(t, "round")

		m := auction.MaxBid(ts, capped, round, cfg)
		if m < 0 {
			t.Fatalf("MaxBid() = %d", m)
		}
		if m > 0 {
			if m%inc != 0 {
				t.Fatalf("MaxBid() = %d, not a multiple of %d", m, inc)
			}
			if rej := auction.ValidateBid(ts, ts.Name, m, capped, round, cfg); rej != nil {
				t.Fatalf("ValidateBid(MaxBid=%d) rejected: %v", m, rej)
			}
		}
		if rej := auction.ValidateBid(ts, ts.Name, m+inc, capped, round, cfg); rej == nil {
			t.Fatalf("ValidateBid(%d) passed above MaxBid %d", m+inc, m)
		}

		amount := rapid.IntRange(1, 30).Draw(t, "amount") * inc
		accepted := auction.ValidateBid(ts, ts.Name, amount, capped, round, cfg) == nil
		if want := amount <= m; accepted != want {
			t.Fatalf("ValidateBid(%d) accepted=%t, MaxBid=%d", amount, accepted, m)
		}
	})
}
