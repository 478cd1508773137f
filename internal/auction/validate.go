package auction

import (
	"errors"
	"fmt"

	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Rejection sentinels, one per rule.
var (
	ErrNotAMultiple     = errors.New("amount is not a positive multiple of the bid increment")
	ErrExceedsReserve   = errors.New("amount would break the reserve for the minimum roster")
	ErrExceedsCapBudget = errors.New("amount exceeds the remaining cap budget")
	ErrRosterFull       = errors.New("team roster is full")
	ErrExceedsBalance   = errors.New("amount exceeds the team balance")
)

// Rejection is an advisory refusal of an operator amount. It unwraps to
// the sentinel of the first rule that failed and carries the metadata
// the operator needs to correct the entry.
type Rejection struct {
	Reason error
	Team   string
	Amount int

	// Nearest is the closest valid amount when the increment rule fails.
	Nearest int
	// Limit is the highest permissible amount when a budget rule fails.
	Limit int
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("bid %d by %s rejected: %v", r.Amount, r.Team, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Reason }

// Code returns the wire identifier of the failed rule.
func (r *Rejection) Code() string {
	switch {
	case errors.Is(r.Reason, ErrNotAMultiple):
		return "not_a_multiple"
	case errors.Is(r.Reason, ErrExceedsReserve):
		return "exceeds_reserve"
	case errors.Is(r.Reason, ErrExceedsCapBudget):
		return "exceeds_cap_budget"
	case errors.Is(r.Reason, ErrRosterFull):
		return "roster_full"
	case errors.Is(r.Reason, ErrExceedsBalance):
		return "exceeds_balance"
	}
	return "rejected"
}

// ValidateBid applies the bid rules in order against a projected team
// state; the first failing rule produces the rejection. It is purely
// advisory: nothing is committed by a nil return.
func ValidateBid(ts ledger.TeamState, team string, amount int, capped bool, round int, cfg snapshot.Config) *Rejection {
	inc := cfg.BidIncrement
	if amount < inc || amount%inc != 0 {
		return &Rejection{Reason: ErrNotAMultiple, Team: team, Amount: amount, Nearest: nearestBid(amount, inc)}
	}

	reserve := reserveFor(ts, cfg)
	if amount > ts.Balance-reserve {
		return &Rejection{Reason: ErrExceedsReserve, Team: team, Amount: amount, Limit: max(0, ts.Balance-reserve)}
	}

	if capped && round == 1 {
		headroom := cfg.CapBudget(ts.Purse) - ts.CapSpent
		if amount > headroom {
			return &Rejection{Reason: ErrExceedsCapBudget, Team: team, Amount: amount, Limit: max(0, headroom)}
		}
	}

	if ts.Acquired >= cfg.MaxPlayersPerTeam {
		return &Rejection{Reason: ErrRosterFull, Team: team, Amount: amount}
	}
	return nil
}

// MaxBid returns the largest amount ValidateBid would accept for the
// team, or 0 when no legal bid exists.
func MaxBid(ts ledger.TeamState, capped bool, round int, cfg snapshot.Config) int {
	if ts.Acquired >= cfg.MaxPlayersPerTeam {
		return 0
	}
	limit := ts.Balance - reserveFor(ts, cfg)
	if capped && round == 1 {
		if headroom := cfg.CapBudget(ts.Purse) - ts.CapSpent; headroom < limit {
			limit = headroom
		}
	}
	if limit < cfg.BidIncrement {
		return 0
	}
	return limit - limit%cfg.BidIncrement
}

// reserveFor is the balance a team must keep to still fill its minimum
// roster: one increment for every further player needed beyond the next.
func reserveFor(ts ledger.TeamState, cfg snapshot.Config) int {
	needed := cfg.MinPlayersPerTeam - ts.Acquired
	if needed < 1 {
		return 0
	}
	return (needed - 1) * cfg.BidIncrement
}

// nearestBid rounds to the closest positive multiple of the increment.
func nearestBid(amount, inc int) int {
	if amount < inc {
		return inc
	}
	n := (amount + inc/2) / inc * inc
	if n < inc {
		return inc
	}
	return n
}
