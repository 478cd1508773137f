package store

import (
	"context"
	"errors"
	"io"

	"github.com/rostrumdev/rostrum/internal/snapshot"
)

// ErrNoSnapshot is returned by Get when a store holds no snapshot for the
// requested auction id. A resume attempt surfaces it to the operator as
// "start fresh or provide a valid id".
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store is one persistence tier for auction snapshots. Writes are
// whole-document: there are no partial updates and no transactions across
// snapshots.
type Store interface {
	// Put overwrites the stored snapshot for snap.AuctionID.
	Put(ctx context.Context, snap *snapshot.Snapshot) error
	// Get returns the latest stored snapshot, or ErrNoSnapshot.
	Get(ctx context.Context, auctionID string) (*snapshot.Snapshot, error)
	// Ping checks the underlying connection health.
	Ping(ctx context.Context) error
	io.Closer
}

// Subscriber is implemented by stores that can push newly written
// snapshots to passive observers. Delivery is best-effort; subscribers
// must tolerate dropped and out-of-order snapshots.
type Subscriber interface {
	// Subscribe invokes fn for every snapshot published for the auction
	// until ctx is cancelled or the returned stop function is called.
	Subscribe(ctx context.Context, auctionID string, fn func(*snapshot.Snapshot)) (stop func(), err error)
}
