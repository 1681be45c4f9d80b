// Package history records editor session events, connection transitions
// and document changes, to a SQLite file for later inspection through the
// web API.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vuckos/T-display-web-editor/internal/log"
)

// Event kinds written by the editor.
const (
	KindConnection = "connection"
	KindDocument   = "document"
)

// Event is one recorded session event.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	Value  string    `json:"value,omitempty"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    at TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT,
    value TEXT
);`

// Recorder owns the history database. Writes flow through a buffered
// channel into a single writer goroutine, so logging never blocks the
// feed or the web handlers; under pressure events are dropped, not
// queued unboundedly.
type Recorder struct {
	db     *sql.DB
	events chan Event

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Open opens (or creates) the history database at path and starts the
// writer goroutine.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection keeps the writer and readers serialized; SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	r := &Recorder{
		db:      db,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.writer()
	return r, nil
}

// Log enqueues one event. It never blocks; when the buffer is full the
// event is dropped with a warning.
func (r *Recorder) Log(kind, detail, value string) {
	e := Event{At: time.Now(), Kind: kind, Detail: detail, Value: value}
	select {
	case r.events <- e:
	default:
		log.Warn("history event dropped", "kind", kind, "detail", detail)
	}
}

// Recent returns up to limit events, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT at, kind, detail, value FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&at, &e.Kind, &e.Detail, &e.Value); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains buffered events, stops the writer and closes the database.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	<-r.stopped
	return r.db.Close()
}

func (r *Recorder) writer() {
	defer close(r.stopped)

	write := func(e Event) {
		_, err := r.db.Exec(
			`INSERT INTO events(at, kind, detail, value) VALUES(?, ?, ?, ?)`,
			e.At.UTC().Format(time.RFC3339Nano), e.Kind, e.Detail, e.Value)
		if err != nil {
			log.Error("history insert failed", err, "kind", e.Kind)
		}
	}

	for {
		select {
		case e := <-r.events:
			write(e)
		case <-r.done:
			// Flush whatever is still buffered before shutting down.
			for {
				select {
				case e := <-r.events:
					write(e)
				default:
					return
				}
			}
		}
	}
}
