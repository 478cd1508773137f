package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// Tier is one named replica in the write fan-out. Order matters for reads:
// tiers are consulted first to last.
type Tier struct {
	Name  string
	Store Store
}

// Fanout writes snapshots to every tier and reads from the first tier that
// can serve. All tiers are best-effort replicas: a failure in one never
// blocks another, and a write failure is logged rather than surfaced as
// fatal.
type Fanout struct {
	tiers   []Tier
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewFanout builds a fan-out over the given tiers. timeout bounds each
// tier's Put and Get individually; zero means no per-tier deadline.
func NewFanout(logger *slog.Logger, tp trace.TracerProvider, timeout time.Duration, tiers ...Tier) *Fanout {
	return &Fanout{
		tiers:   tiers,
		timeout: timeout,
		logger:  logger,
		tracer:  tp.Tracer("github.com/rostrumdev/rostrum/internal/store"),
	}
}

// Put writes the snapshot to every tier. It returns an error only when no
// tier accepted the write; individual tier failures are logged and recorded
// on the span.
func (f *Fanout) Put(ctx context.Context, snap *snapshot.Snapshot) error {
	ctx, span := f.tracer.Start(ctx, "Fanout.Put",
		trace.WithAttributes(
			attribute.String("auction_id", snap.AuctionID),
			attribute.Int64("revision", int64(snap.Revision)),
		),
	)
	defer span.End()

	ok := 0
	for _, tier := range f.tiers {
		tctx, cancel := f.tierContext(ctx)
		err := tier.Store.Put(tctx, snap)
		cancel()
		if err != nil {
			span.RecordError(err)
			f.logger.WarnContext(ctx, "snapshot write failed",
				slog.String("tier", tier.Name),
				slog.String("auction_id", snap.AuctionID),
				slog.Uint64("revision", snap.Revision),
				slog.Any("error", err),
			)
			continue
		}
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("writing snapshot %s: all %d tiers failed", snap.AuctionID, len(f.tiers))
	}
	return nil
}

// Get returns the latest snapshot from the first tier able to serve it.
// A tier that is empty, unreachable or holds a malformed snapshot is
// skipped and the next tier is tried. When every tier reports no snapshot
// the returned error unwraps to ErrNoSnapshot.
func (f *Fanout) Get(ctx context.Context, auctionID string) (*snapshot.Snapshot, error) {
	ctx, span := f.tracer.Start(ctx, "Fanout.Get",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	var hard []error
	for _, tier := range f.tiers {
		tctx, cancel := f.tierContext(ctx)
		snap, err := tier.Store.Get(tctx, auctionID)
		cancel()
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrNoSnapshot) {
			continue
		}
		hard = append(hard, fmt.Errorf("%s: %w", tier.Name, err))
		span.RecordError(err)
		f.logger.WarnContext(ctx, "snapshot read failed, trying next tier",
			slog.String("tier", tier.Name),
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}

	if len(hard) > 0 {
		return nil, fmt.Errorf("reading snapshot %s: %w", auctionID, errors.Join(hard...))
	}
	return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNoSnapshot)
}

func (f *Fanout) tierContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}
