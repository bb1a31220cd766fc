package mcp

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// eventMigrations define the event stream schema. Version is tracked in
// the schema_versions table.
var eventMigrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
    stream_id   TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    message     TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (stream_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, seq ASC);
`,
	},
}

// sqliteEvents persists streams in SQLite so resumption survives a process
// restart.
type sqliteEvents struct {
	db *sql.DB
}

// NewSQLiteEvents opens (or creates) the event database at path and runs
// pending schema migrations. Pass ":memory:" for tests.
func NewSQLiteEvents(path string) (EventStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating event db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL mode keeps appends from blocking replays.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteEvents{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteEvents) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range eventMigrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteEvents) Store(streamID string, message []byte) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE stream_id = ?`, streamID).Scan(&seq); err != nil {
		return "", fmt.Errorf("next event seq: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO events(stream_id, seq, message) VALUES(?, ?, ?)`,
		streamID, seq, string(message)); err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	metrics.EventsStoredTotal.Inc()
	return eventID(streamID, seq), nil
}

func (s *sqliteEvents) ReplayAfter(lastEventID string, send func(string, []byte) error) (string, error) {
	streamID, seq, err := splitEventID(lastEventID)
	if err != nil {
		return "", err
	}

	rows, err := s.db.Query(
		`SELECT seq, message FROM events WHERE stream_id = ? AND seq > ? ORDER BY seq ASC`,
		streamID, seq)
	if err != nil {
		return streamID, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eseq int64
		var message string
		if err := rows.Scan(&eseq, &message); err != nil {
			return streamID, err
		}
		if err := send(eventID(streamID, eseq), []byte(message)); err != nil {
			return streamID, err
		}
	}
	return streamID, rows.Err()
}

func (s *sqliteEvents) DropStream(streamID string) {
	_, _ = s.db.Exec(`DELETE FROM events WHERE stream_id = ?`, streamID)
}

func (s *sqliteEvents) Close() error { return s.db.Close() }

// NewEventStore picks the backend named by the configuration.
func NewEventStore(backend, dbPath string) (EventStore, error) {
	switch backend {
	case "", "memory":
		return NewMemoryEvents(), nil
	case "sqlite":
		return NewSQLiteEvents(dbPath)
	default:
		return nil, fmt.Errorf("unknown event store backend %q", backend)
	}
}
