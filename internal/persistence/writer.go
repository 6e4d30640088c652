package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"VeilPerp/internal/state"
)

// Writer persists audit events and position metadata to Postgres using
// multi-row INSERT. Events are append-only; positions are upserted by
// slot key. Ciphertext is stored as opaque hex, never interpreted.
type Writer struct {
	db *sql.DB
}

// EventRow is a row in veil.events.
type EventRow struct {
	Sequence  int64
	EventType string
	Position  string // hex slot key, empty for pool-level events
	Pool      string
	Custody   string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteEventBatch appends a batch of audit events inside tx. Conflicting
// sequences are skipped, making replays idempotent.
func (w *Writer) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO veil.events
		(sequence, event_type, position, pool, custody, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*7)

	for i, e := range events {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			e.Sequence, e.EventType, e.Position, e.Pool,
			e.Custody, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertPosition persists one position record's plaintext metadata and
// sealed payload, keyed by slot.
func (w *Writer) UpsertPosition(ctx context.Context, rec *state.PositionRecord) error {
	sealed := make([]byte, 0, len(rec.Sealed)*len(rec.Sealed[0]))
	for i := range rec.Sealed {
		sealed = append(sealed, rec.Sealed[i][:]...)
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO veil.positions
			(slot, owner, pool, custody, collateral_custody, sealed, nonce,
			 status, locked_collateral, open_time, update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slot) DO UPDATE SET
			sealed            = EXCLUDED.sealed,
			nonce             = EXCLUDED.nonce,
			status            = EXCLUDED.status,
			locked_collateral = EXCLUDED.locked_collateral,
			update_time       = EXCLUDED.update_time
	`,
		rec.Key.String(), rec.Owner.String(), rec.Pool, rec.Custody,
		rec.CollateralCustody, hex.EncodeToString(sealed), int64(rec.Nonce),
		int32(rec.Status), int64(rec.LockedCollateral),
		rec.OpenTime, rec.UpdateTime,
	)
	return err
}

// SyncBook upserts every record in the book. Used on a periodic flush;
// callers tolerate a failure and retry on the next tick.
func (w *Writer) SyncBook(ctx context.Context, book *state.Book) error {
	var firstErr error
	book.ForEach(func(rec *state.PositionRecord) {
		if err := w.UpsertPosition(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// LastSequence returns the highest persisted audit sequence, 0 when the
// log is empty. Used at startup to resume sequence assignment.
func (w *Writer) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM veil.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// MarshalPayload JSON-encodes an event payload for the events table.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
