// Package snapshot defines the versioned, self-sufficient serialized form of
// an auction. A snapshot is regenerated wholesale on every mutation and is
// the only thing that crosses the synchronization boundary; a fresh
// controller rebuilds all playable state from it with no other input.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rostrumdev/rostrum/internal/ledger"
)

// SchemaVersion is bumped whenever the persisted shape changes.
const SchemaVersion = 1

// Auction lifecycle states carried in the snapshot.
const (
	StatusBidding  = "bidding"
	StatusComplete = "complete"
)

// ErrMalformed marks a structurally invalid persisted snapshot. A resume
// attempt treats it as fatal for that storage tier only and falls through
// to the next tier.
var ErrMalformed = errors.New("malformed snapshot")

// Config holds the immutable auction parameters.
type Config struct {
	MinPlayersPerTeam int    `json:"min_players_per_team"`
	MaxPlayersPerTeam int    `json:"max_players_per_team"`
	CapBudgetPercent  int    `json:"cap_budget_percent"`
	BidIncrement      int    `json:"bid_increment"`
	CappedCategory    string `json:"capped_category"`
}

// CapBudget returns the round-1 spending ceiling on capped-category
// players for a team with the given purse.
func (c Config) CapBudget(purse int) int {
	return c.CapBudgetPercent * purse / 100
}

// Validate checks the parameter ranges.
func (c Config) Validate() error {
	if c.BidIncrement < 1 {
		return fmt.Errorf("bid increment must be at least 1, got %d", c.BidIncrement)
	}
	if c.MinPlayersPerTeam < 0 {
		return fmt.Errorf("min players per team must not be negative, got %d", c.MinPlayersPerTeam)
	}
	if c.MaxPlayersPerTeam < 1 || c.MaxPlayersPerTeam < c.MinPlayersPerTeam {
		return fmt.Errorf("max players per team %d invalid with min %d", c.MaxPlayersPerTeam, c.MinPlayersPerTeam)
	}
	if c.CapBudgetPercent < 0 || c.CapBudgetPercent > 100 {
		return fmt.Errorf("cap budget percent must be within [0,100], got %d", c.CapBudgetPercent)
	}
	return nil
}

// Cursor is the round controller position: the current round, the ordered
// player sequence still being decided, and the index of the player on the
// block. Deferred collects capped players skipped out of round 1.
type Cursor struct {
	Round       int      `json:"round"`
	PlayerIndex int      `json:"player_index"`
	Sequence    []string `json:"sequence"`
	Deferred    []string `json:"deferred,omitempty"`
}

// Snapshot is the complete externally persisted auction state.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	AuctionID     string          `json:"auction_id"`
	Revision      uint64          `json:"revision"`
	Status        string          `json:"status"`
	Cursor        Cursor          `json:"cursor"`
	Ledger        []ledger.Entry  `json:"ledger"`
	Teams         []ledger.Team   `json:"teams"`
	Players       []ledger.Player `json:"players"`
	Config        Config          `json:"config"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Encode serializes the snapshot to JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses and validates a persisted snapshot. Any structural problem
// is reported as ErrMalformed.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structural invariants a snapshot must satisfy before
// it may be used to rebuild an auction.
func (s *Snapshot) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, supported %d", ErrMalformed, s.SchemaVersion, SchemaVersion)
	}
	if s.AuctionID == "" {
		return fmt.Errorf("%w: empty auction id", ErrMalformed)
	}
	if s.Status != StatusBidding && s.Status != StatusComplete {
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, s.Status)
	}

	if err := s.validateConfig(); err != nil {
		return err
	}

	if len(s.Teams) < 2 {
		return fmt.Errorf("%w: need at least two teams, have %d", ErrMalformed, len(s.Teams))
	}
	teamNames := make(map[string]bool, len(s.Teams))
	for _, t := range s.Teams {
		if t.Name == "" {
			return fmt.Errorf("%w: team with empty name", ErrMalformed)
		}
		if teamNames[t.Name] {
			return fmt.Errorf("%w: duplicate team %q", ErrMalformed, t.Name)
		}
		if t.Purse <= 0 {
			return fmt.Errorf("%w: team %q has non-positive purse %d", ErrMalformed, t.Name, t.Purse)
		}
		teamNames[t.Name] = true
	}

	if len(s.Players) == 0 {
		return fmt.Errorf("%w: no players", ErrMalformed)
	}
	playerIDs := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		if p.ID == "" {
			return fmt.Errorf("%w: player with empty id", ErrMalformed)
		}
		if playerIDs[p.ID] {
			return fmt.Errorf("%w: duplicate player %q", ErrMalformed, p.ID)
		}
		playerIDs[p.ID] = true
	}

	if err := s.validateCursor(playerIDs); err != nil {
		return err
	}
	return s.validateLedger(teamNames, playerIDs)
}

func (s *Snapshot) validateConfig() error {
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (s *Snapshot) validateCursor(playerIDs map[string]bool) error {
	cur := s.Cursor
	if cur.Round < 1 {
		return fmt.Errorf("%w: cursor round %d", ErrMalformed, cur.Round)
	}
	seen := make(map[string]bool, len(cur.Sequence))
	for _, id := range cur.Sequence {
		if !playerIDs[id] {
			return fmt.Errorf("%w: sequence references unknown player %q", ErrMalformed, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: player %q appears twice in sequence", ErrMalformed, id)
		}
		seen[id] = true
	}
	for _, id := range cur.Deferred {
		if !playerIDs[id] {
			return fmt.Errorf("%w: deferred list references unknown player %q", ErrMalformed, id)
		}
	}
	switch s.Status {
	case StatusBidding:
		if len(cur.Sequence) == 0 {
			return fmt.Errorf("%w: bidding with empty sequence", ErrMalformed)
		}
		if cur.PlayerIndex < 0 || cur.PlayerIndex >= len(cur.Sequence) {
			return fmt.Errorf("%w: player index %d outside sequence of %d", ErrMalformed, cur.PlayerIndex, len(cur.Sequence))
		}
	case StatusComplete:
		if cur.PlayerIndex != 0 {
			return fmt.Errorf("%w: complete auction with player index %d", ErrMalformed, cur.PlayerIndex)
		}
	}
	return nil
}

func (s *Snapshot) validateLedger(teamNames, playerIDs map[string]bool) error {
	sold := make(map[string]bool)
	for i, e := range s.Ledger {
		if !playerIDs[e.PlayerID] {
			return fmt.Errorf("%w: ledger entry %d references unknown player %q", ErrMalformed, i, e.PlayerID)
		}
		if e.Round < 1 || e.Attempt < 1 {
			return fmt.Errorf("%w: ledger entry %d has round %d attempt %d", ErrMalformed, i, e.Round, e.Attempt)
		}
		switch e.Status {
		case ledger.StatusSold:
			if !teamNames[e.Team] {
				return fmt.Errorf("%w: sold entry %d references unknown team %q", ErrMalformed, i, e.Team)
			}
			if e.Amount < 0 {
				return fmt.Errorf("%w: sold entry %d has negative amount", ErrMalformed, i)
			}
			if sold[e.PlayerID] {
				return fmt.Errorf("%w: player %q sold twice", ErrMalformed, e.PlayerID)
			}
			sold[e.PlayerID] = true
		case ledger.StatusUnsold:
			if e.Team != "" || e.Amount != 0 {
				return fmt.Errorf("%w: unsold entry %d carries team or amount", ErrMalformed, i)
			}
		default:
			return fmt.Errorf("%w: ledger entry %d has status %q", ErrMalformed, i, e.Status)
		}
	}
	return nil
}

// TrimForRemote returns a copy with the photos of frozen players removed.
// Finalized records no longer need their binaries on observers, and
// stripping them bounds the remote payload as the auction progresses.
// Photos of the active and not-yet-decided players are retained.
func (s *Snapshot) TrimForRemote() *Snapshot {
	frozen := ledger.FrozenSet(s.Ledger)
	trimmed := *s
	trimmed.Players = make([]ledger.Player, len(s.Players))
	for i, p := range s.Players {
		trimmed.Players[i] = p
		if frozen[p.ID] {
			trimmed.Players[i].Photo = nil
		}
	}
	return &trimmed
}

// Attachment is a binary payload stored separately from the snapshot
// document in the large-object store.
type Attachment struct {
	Ref  string `db:"ref"`
	Data []byte `db:"data"`
}

// PlayerRef returns the attachment ref for a player photo.
func PlayerRef(id string) string { return "player/" + id }

// TeamRef returns the attachment ref for a team logo.
func TeamRef(name string) string { return "team/" + name }

// SplitAttachments returns a copy of the snapshot with every binary payload
// replaced by a ref, plus the extracted attachments.
func SplitAttachments(s *Snapshot) (*Snapshot, []Attachment) {
	doc := *s
	var atts []Attachment

	doc.Players = make([]ledger.Player, len(s.Players))
	for i, p := range s.Players {
		doc.Players[i] = p
		if len(p.Photo) > 0 {
			ref := PlayerRef(p.ID)
			atts = append(atts, Attachment{Ref: ref, Data: p.Photo})
			doc.Players[i].Photo = nil
			doc.Players[i].PhotoRef = ref
		}
	}
	doc.Teams = make([]ledger.Team, len(s.Teams))
	for i, t := range s.Teams {
		doc.Teams[i] = t
		if len(t.Logo) > 0 {
			ref := TeamRef(t.Name)
			atts = append(atts, Attachment{Ref: ref, Data: t.Logo})
			doc.Teams[i].Logo = nil
			doc.Teams[i].LogoRef = ref
		}
	}
	return &doc, atts
}

// JoinAttachments resolves refs back into inline binaries, restoring the
// shape the snapshot had before SplitAttachments.
func JoinAttachments(s *Snapshot, atts []Attachment) {
	byRef := make(map[string][]byte, len(atts))
	for _, a := range atts {
		byRef[a.Ref] = a.Data
	}
	for i, p := range s.Players {
		if p.PhotoRef == "" {
			continue
		}
		if data, ok := byRef[p.PhotoRef]; ok {
			s.Players[i].Photo = data
			s.Players[i].PhotoRef = ""
		}
	}
	for i, t := range s.Teams {
		if t.LogoRef == "" {
			continue
		}
		if data, ok := byRef[t.LogoRef]; ok {
			s.Teams[i].Logo = data
			s.Teams[i].LogoRef = ""
		}
	}
}
