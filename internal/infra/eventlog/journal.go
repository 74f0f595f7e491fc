// Package eventlog persists runtime bus events in a SQLite journal.
//
// Each process writes under its own run id, so sequences (which restart at 1
// in every process) stay unambiguous when read back.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ikanban/ikanban/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	type       TEXT    NOT NULL,
	task_id    TEXT    NOT NULL DEFAULT '',
	project_id TEXT    NOT NULL DEFAULT '',
	emitted_at INTEGER NOT NULL,
	payload    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, id);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, id);
`

// Record is one journaled event.
type Record struct {
	Event domain.RuntimeEvent
	RunID string
	ID    int64
}

// Filter selects journal records. Zero fields match everything.
type Filter struct {
	TaskID    string
	ProjectID string
	Types     []domain.EventType
	Limit     int // Most recent N records, returned oldest first
}

// Journal is an append-only SQLite event store.
type Journal struct {
	db     *sql.DB
	logger domain.Logger
	runID  string
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger domain.Logger) (*Journal, error) {
	if logger == nil {
		logger = domain.NopLogger{}
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite only supports one writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	return &Journal{db: db, logger: logger, runID: uuid.NewString()}, nil
}

// RunID returns the id records of this process are written under.
func (j *Journal) RunID() string {
	return j.runID
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append writes one event.
func (j *Journal) Append(ctx context.Context, event domain.RuntimeEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (run_id, sequence, type, task_id, project_id, emitted_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.runID,
		int64(event.Sequence),
		string(event.Type),
		event.Payload.TaskID,
		event.Payload.ProjectID,
		event.EmittedAt.UnixMilli(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("append event %d: %w", event.Sequence, err)
	}
	return nil
}

// EventSource is the part of the event bus Attach needs.
type EventSource interface {
	Subscribe(fn func(domain.RuntimeEvent)) func()
}

// Attach journals every event of bus until the returned func is called.
// Write failures are logged, never propagated into the bus.
func (j *Journal) Attach(bus EventSource) func() {
	return bus.Subscribe(func(e domain.RuntimeEvent) {
		if err := j.Append(context.Background(), e); err != nil {
			j.logger.Warn(e.Payload.TaskID, "eventlog", err.Error())
		}
	})
}

// Query returns records matching f in append order.
func (j *Journal) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}

	q := "SELECT id, run_id, sequence, type, emitted_at, payload FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			sequence  int64
			eventType string
			emittedAt int64
			payload   string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &sequence, &eventType, &emittedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.Event = domain.RuntimeEvent{
			Sequence:  uint64(sequence),
			Type:      domain.EventType(eventType),
			EmittedAt: time.UnixMilli(emittedAt),
		}
		if err := json.Unmarshal([]byte(payload), &r.Event.Payload); err != nil {
			return nil, fmt.Errorf("decode journal row %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	slices.Reverse(records)
	return records, nil
}

// Prune deletes records emitted before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE emitted_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}
