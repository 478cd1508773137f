package observer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rostrumdev/rostrum/internal/ledger"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Sender posts a message to a channel. *discordgo.Session implements it.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts auction decisions to a Discord channel. It is a
// passive renderer: a Discord outage costs announcements, never the
// auction itself.
type Announcer struct {
	sender    Sender
	channelID string
	logger    *slog.Logger
	queue     chan *snapshot.Snapshot

	// announced is touched only by the Run goroutine.
	announced map[string]announceState
}

type announceState struct {
	entries  int
	complete bool
}

// NewAnnouncer builds an announcer posting through sender to channelID.
func NewAnnouncer(sender Sender, channelID string, logger *slog.Logger) *Announcer {
	return &Announcer{
		sender:    sender,
		channelID: channelID,
		logger:    logger,
		queue:     make(chan *snapshot.Snapshot, 64),
		announced: make(map[string]announceState),
	}
}

// Render implements Renderer. When the queue is full the snapshot is
// dropped; the diff against the next one covers whatever was missed.
func (a *Announcer) Render(snap *snapshot.Snapshot) {
	select {
	case a.queue <- snap:
	default:
	}
}

// Run posts queued announcements until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-a.queue:
			for _, msg := range a.messages(snap) {
				if _, err := a.sender.ChannelMessageSend(a.channelID, msg); err != nil {
					a.logger.WarnContext(ctx, "posting announcement failed",
						slog.String("auction_id", snap.AuctionID),
						slog.Any("error", err),
					)
				}
			}
		}
	}
}

// messages diffs the snapshot against what was already announced and
// renders one message per new decision.
func (a *Announcer) messages(snap *snapshot.Snapshot) []string {
	st := a.announced[snap.AuctionID]
	var msgs []string

	if len(snap.Ledger) < st.entries {
		msgs = append(msgs, "Last entry undone.")
		st.entries = len(snap.Ledger)
	}

	names := make(map[string]string, len(snap.Players))
	for _, p := range snap.Players {
		names[p.ID] = p.Name
	}
	for _, e := range snap.Ledger[st.entries:] {
		name := names[e.PlayerID]
		if name == "" {
			name = e.PlayerID
		}
		switch e.Status {
		case ledger.StatusSold:
			msgs = append(msgs, fmt.Sprintf("**%s** sold to **%s** for **%d** (round %d)", name, e.Team, e.Amount, e.Round))
		case ledger.StatusUnsold:
			msgs = append(msgs, fmt.Sprintf("**%s** passes in round %d", name, e.Round))
		}
	}

	if snap.Status == snapshot.StatusComplete && !st.complete {
		var b strings.Builder
		b.WriteString("Auction complete.")
		for _, ts := range ledger.Project(snap.Ledger, snap.Teams, snap.Config.CappedCategory) {
			fmt.Fprintf(&b, "\n**%s**: %d players, %d spent, %d left", ts.Name, ts.Acquired, ts.Spent, ts.Balance)
		}
		msgs = append(msgs, b.String())
	}

	a.announced[snap.AuctionID] = announceState{
		entries:  len(snap.Ledger),
		complete: snap.Status == snapshot.StatusComplete,
	}
	return msgs
}
