// Package pgstore provides a Postgres-backed snapshot store with OTEL
// instrumentation via otelsql. It is the durable tier: snapshots are kept
// at full fidelity, with binary attachments split into a side table so the
// document row stays small enough to inspect by hand.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/rostrumdev/rostrum/internal/clock"
	"github.com/rostrumdev/rostrum/internal/config"
	"github.com/rostrumdev/rostrum/internal/snapshot"
	"github.com/rostrumdev/rostrum/internal/store"
)

//go:embed migrations/001_initial.sql
var migrationSQL string

func init() {
	store.Register("postgres", driver)
}

func driver(ctx context.Context, cfg config.StoreConfig, clk clock.Clock) (store.Store, error) {
	return Connect(ctx, cfg.Postgres, clk)
}

// Store implements store.Store backed by Postgres.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// Connect opens and verifies a Postgres connection with OTEL
// instrumentation, then applies the schema migration.
func Connect(ctx context.Context, cfg config.PostgresConfig, clk clock.Clock) (*Store, error) {
	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, clk: clk}, nil
}

// New wraps an existing connection, for tests that manage their own.
func New(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clk: clk}
}

// Migrate applies the schema. All statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("applying migration: %w", err)
	}
	return nil
}

// Put stores the snapshot, replacing any previous revision for the same
// auction. Binary attachments are written to the blob table and the
// document keeps refs in their place.
func (s *Store) Put(ctx context.Context, snap *snapshot.Snapshot) error {
	doc, atts := snapshot.SplitAttachments(snap)
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (auction_id, revision, doc, stored_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (auction_id) DO UPDATE
		 SET revision = EXCLUDED.revision,
		     doc = EXCLUDED.doc,
		     stored_at = EXCLUDED.stored_at`,
		snap.AuctionID, snap.Revision, string(data), s.clk.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot (auction=%s, revision=%d): %w", snap.AuctionID, snap.Revision, err)
	}

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO snapshot_blobs (auction_id, ref, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (auction_id, ref) DO UPDATE SET data = EXCLUDED.data`)
	if err != nil {
		return fmt.Errorf("preparing blob statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range atts {
		if _, err := stmt.ExecContext(ctx, snap.AuctionID, a.Ref, a.Data); err != nil {
			return fmt.Errorf("inserting blob (auction=%s, ref=%s): %w", snap.AuctionID, a.Ref, err)
		}
	}

	return tx.Commit()
}

// Get fetches the latest snapshot for the auction and resolves its
// attachment refs back into inline binaries.
func (s *Store) Get(ctx context.Context, auctionID string) (*snapshot.Snapshot, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data,
		`SELECT doc FROM snapshots WHERE auction_id = $1`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", auctionID, store.ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, err)
	}

	var atts []snapshot.Attachment
	err = s.db.SelectContext(ctx, &atts,
		`SELECT ref, data FROM snapshot_blobs WHERE auction_id = $1`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("reading blobs: %w", err)
	}
	snapshot.JoinAttachments(snap, atts)

	return snap, nil
}

// Ping reports whether the database connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
