// Package audit implements the optional durable compliance trail: every
// admitted query and safety rejection, recorded asynchronously so the
// request path never blocks on a database round-trip. It is an ambient
// record, not the service's primary storage — that stays on disk in
// pkg/docstore, pkg/qastore, and pkg/kb.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audited request outcome.
type Entry struct {
	ID           uuid.UUID
	UserID       string
	Query        string
	Mode         string
	KnowledgeBase string
	SafetyLevel  string
	Rejected     bool
	ElapsedSecs  float64
	Detail       json.RawMessage
	OccurredAt   time.Time
}

// Writer is an async, buffered audit log writer, batching inserts the same
// way the teacher's writer batches alert/incident audit rows.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates a Writer bound to pool. Call Start to begin processing.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{pool: pool, logger: logger, entries: make(chan Entry, bufferSize)}
}

// Start runs the background flush loop until ctx is done, at which point it
// drains and flushes whatever remains before returning.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting entries and waits for the flush loop to exit.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry without blocking the caller; a full buffer drops
// the entry and logs a warning rather than applying backpressure to the
// request path.
func (w *Writer) Log(e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	select {
	case w.entries <- e:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "user_id", e.UserID, "mode", e.Mode)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`insert into query_audit_log
			 (id, user_id, query, mode, knowledge_base, safety_level, rejected, elapsed_secs, detail, occurred_at)
			 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.UserID, e.Query, e.Mode, e.KnowledgeBase, e.SafetyLevel, e.Rejected, e.ElapsedSecs, e.Detail, e.OccurredAt,
		)
	}

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			w.logger.Error("writing audit log entry", "error", err)
		}
	}
}

// List returns the most recent entries, newest first, up to limit.
func (w *Writer) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.pool.Query(ctx,
		`select id, user_id, query, mode, knowledge_base, safety_level, rejected, elapsed_secs, detail, occurred_at
		 from query_audit_log order by occurred_at desc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.Mode, &e.KnowledgeBase, &e.SafetyLevel, &e.Rejected, &e.ElapsedSecs, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
