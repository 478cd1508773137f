// Package observer distributes auction snapshots to passive read-only
// sinks: websocket clients, the Discord announcer, anything else that
// renders state. Nothing in this package ever mutates an auction.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
)

// Renderer consumes snapshots. Render must not block: slow sinks queue
// or drop internally.
type Renderer interface {
	Render(snap *snapshot.Snapshot)
}

// Feed fans snapshots out to renderers. It remembers the newest revision
// seen per auction and drops anything at or below it, collapsing the
// duplicate and out-of-order deliveries the transports are allowed to
// produce into one monotonic stream.
type Feed struct {
	logger    *slog.Logger
	source    store.Subscriber
	renderers []Renderer

	mu     sync.Mutex
	latest map[string]uint64
	stops  map[string]func()
}

// NewFeed builds a feed over the given renderers. source is the pub/sub
// transport used by EnsureSubscribed; nil disables cross-process delivery.
func NewFeed(logger *slog.Logger, source store.Subscriber, renderers ...Renderer) *Feed {
	return &Feed{
		logger:    logger,
		source:    source,
		renderers: renderers,
		latest:    make(map[string]uint64),
		stops:     make(map[string]func()),
	}
}

// Offer hands the feed a snapshot. Stale and duplicate revisions are
// dropped; fresh ones reach every renderer.
func (f *Feed) Offer(snap *snapshot.Snapshot) {
	f.mu.Lock()
	last, seen := f.latest[snap.AuctionID]
	if seen && snap.Revision <= last {
		f.mu.Unlock()
		return
	}
	f.latest[snap.AuctionID] = snap.Revision
	f.mu.Unlock()

	for _, r := range f.renderers {
		r.Render(snap)
	}
}

// EnsureSubscribed attaches the feed to the store's pub/sub channel for
// the auction, so snapshots written by another process reach the
// renderers too. Subscribing twice is a no-op.
func (f *Feed) EnsureSubscribed(ctx context.Context, auctionID string) error {
	if f.source == nil {
		return nil
	}
	f.mu.Lock()
	_, subscribed := f.stops[auctionID]
	f.mu.Unlock()
	if subscribed {
		return nil
	}

	stop, err := f.source.Subscribe(ctx, auctionID, f.Offer)
	if err != nil {
		return fmt.Errorf("subscribing feed to auction %s: %w", auctionID, err)
	}

	f.mu.Lock()
	if _, raced := f.stops[auctionID]; raced {
		f.mu.Unlock()
		stop()
		return nil
	}
	f.stops[auctionID] = stop
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "feed subscribed", slog.String("auction_id", auctionID))
	return nil
}

// Close stops every active subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	stops := make([]func(), 0, len(f.stops))
	for id, stop := range f.stops {
		stops = append(stops, stop)
		delete(f.stops, id)
	}
	f.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
