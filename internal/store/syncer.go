package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Syncer decouples mutations from persistence. Each mutation offers the
// freshly built snapshot; a single loop pushes pending snapshots through
// the fan-out. Pending state is kept per auction: a queued snapshot is
// only ever superseded by a newer one of the same auction, never
// displaced by another auction's activity. Intermediate snapshots are
// not queued individually, only an auction's latest matters.
type Syncer struct {
	fanout *Fanout
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*snapshot.Snapshot
	wake    chan struct{}
}

// NewSyncer returns a Syncer that pushes through the given fan-out.
func NewSyncer(fanout *Fanout, logger *slog.Logger) *Syncer {
	return &Syncer{
		fanout:  fanout,
		logger:  logger,
		pending: make(map[string]*snapshot.Snapshot),
		wake:    make(chan struct{}, 1),
	}
}

// Offer hands the syncer a new snapshot without blocking the caller. A
// still-queued older snapshot of the same auction is replaced; an offer
// arriving behind a newer revision of its auction is dropped.
func (s *Syncer) Offer(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	if cur, ok := s.pending[snap.AuctionID]; !ok || snap.Revision >= cur.Revision {
		s.pending[snap.AuctionID] = snap
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// take removes and returns every pending snapshot.
func (s *Syncer) take() []*snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	batch := make([]*snapshot.Snapshot, 0, len(s.pending))
	for _, snap := range s.pending {
		batch = append(batch, snap)
	}
	clear(s.pending)
	return batch
}

// Run pushes pending snapshots until ctx is cancelled. Push failures are
// logged and never retried here; the auction's next mutation produces a
// newer snapshot that supersedes the failed one.
func (s *Syncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for _, snap := range s.take() {
			if err := s.fanout.Put(ctx, snap); err != nil {
				s.logger.WarnContext(ctx, "snapshot push failed",
					slog.String("auction_id", snap.AuctionID),
					slog.Uint64("revision", snap.Revision),
					slog.Any("error", err),
				)
			}
		}
	}
}
