package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"VeilPerp/internal/event"
	"VeilPerp/internal/observability"
)

// Worker drains the audit channel and batch-writes to Postgres. The
// channel uses BLOCKING sends from the orchestrator's audit sink, so if
// this worker falls behind, settlements stall rather than lose events.
type Worker struct {
	writer       *Writer
	db           *sql.DB
	inputChan    chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(db *sql.DB, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &Worker{
		writer:       NewWriter(db),
		db:           db,
		inputChan:    make(chan event.Envelope, batchSize*4),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Sink returns a blocking audit sink feeding this worker.
func (pw *Worker) Sink() event.AuditLog {
	return workerSink{pw}
}

type workerSink struct{ pw *Worker }

func (s workerSink) Append(ctx context.Context, env event.Envelope) error {
	select {
	case s.pw.inputChan <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Writer exposes the underlying writer for position sync and startup
// sequence recovery.
func (pw *Worker) Writer() *Writer {
	return pw.writer
}

// Run starts the worker loop. It batches incoming envelopes and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled.
func (pw *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case env, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, toRow(env))

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func toRow(env event.Envelope) EventRow {
	return EventRow{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Position:  env.Position,
		Pool:      env.Pool,
		Custody:   env.Custody,
		Payload:   MarshalPayload(env.Payload),
		Timestamp: env.Timestamp,
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// never drops events: it retries until the write succeeds or the context
// is cancelled, then attempts one final flush on shutdown.
func (pw *Worker) flushWithRetry(ctx context.Context, batch []EventRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), batch)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *Worker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())
		pw.metrics.PersistEventsWritten.Add(float64(len(batch)))
		pw.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}

	return nil
}
