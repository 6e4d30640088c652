package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"VeilPerp/internal/persistence"
	"VeilPerp/internal/state"
	"VeilPerp/internal/testutil"
)

func TestWriteEventBatchAndLastSequence(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewWriter(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	batch := []persistence.EventRow{
		{Sequence: 1, EventType: "OpenRequested", Position: "aa", Pool: "main", Custody: "USDC", Payload: []byte(`{"deposit":1000000}`), Timestamp: now},
		{Sequence: 2, EventType: "PositionOpened", Position: "aa", Pool: "main", Custody: "USDC", Payload: []byte(`{}`), Timestamp: now},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	seq, err := writer.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if seq != 2 {
		t.Errorf("last sequence = %d, want 2", seq)
	}

	// Replaying the same batch is a no-op.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, batch); err != nil {
		t.Fatalf("replay batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM veil.events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("event count = %d, want 2", count)
	}
}

func TestUpsertPositionRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewWriter(db)
	owner := uuid.New()

	rec := &state.PositionRecord{
		Key:               state.DeriveKey(owner, "main", "USDC"),
		Owner:             owner,
		Pool:              "main",
		Custody:           "USDC",
		CollateralCustody: "USDC",
		Nonce:             7,
		Status:            state.StatusActive,
		LockedCollateral:  1_000_000,
		OpenTime:          time.Now().UTC(),
		UpdateTime:        time.Now().UTC(),
	}

	if err := writer.UpsertPosition(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Update the mutable columns and upsert again.
	rec.Nonce = 8
	rec.Status = state.StatusClosed
	rec.LockedCollateral = 0
	if err := writer.UpsertPosition(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var nonce int64
	var status int32
	err := db.QueryRowContext(ctx,
		`SELECT nonce, status FROM veil.positions WHERE slot = $1`,
		rec.Key.String(),
	).Scan(&nonce, &status)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if nonce != 8 {
		t.Errorf("nonce = %d, want 8", nonce)
	}
	if state.Status(status) != state.StatusClosed {
		t.Errorf("status = %d, want closed", status)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM veil.positions`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("position rows = %d, want 1", count)
	}
}
