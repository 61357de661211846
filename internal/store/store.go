// Package store is the sqlite-backed metadata store (C9 database sink and
// analyzer-registry persistence), repurposing the teacher's database.go
// WAL+migration pattern from a camera/motion-event schema to an
// analyzer/events schema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"videoguard/internal/analyzer"
)

// Store wraps a sqlite database holding the analyzer registry and the
// events table the notification sinks write to and the Telegram /events
// command reads from.
type Store struct {
	db *sql.DB
}

// Open opens (and WAL/foreign-key-configures) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS analyzers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_url TEXT NOT NULL,
		pipelines TEXT NOT NULL,
		status TEXT DEFAULT 'created',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analyzer_id TEXT NOT NULL,
		category TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		video_key TEXT,
		metadata_key TEXT,
		thumbnail_key TEXT,
		triggered TEXT,
		FOREIGN KEY (analyzer_id) REFERENCES analyzers(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_analyzer_time ON events(analyzer_id, timestamp_ms DESC)`,
	// retained for forward migrations on databases created by earlier
	// revisions of this schema
	`ALTER TABLE analyzers ADD COLUMN pipelines TEXT`,
}

// Migrate runs every migration in order, tolerating "duplicate column"
// errors from repeated ALTER TABLE statements across restarts.
func (s *Store) Migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}

// ListAnalyzers loads every analyzer record, used by the Supervisor to
// reload its registry across restarts.
func (s *Store) ListAnalyzers(ctx context.Context) ([]analyzer.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, source_url, pipelines, status FROM analyzers`)
	if err != nil {
		return nil, fmt.Errorf("store: list analyzers: %w", err)
	}
	defer rows.Close()

	var out []analyzer.Record
	for rows.Next() {
		var rec analyzer.Record
		var pipelinesJSON string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Source.URL, &pipelinesJSON, &rec.Status); err != nil {
			return nil, fmt.Errorf("store: scan analyzer: %w", err)
		}
		if pipelinesJSON != "" {
			if err := json.Unmarshal([]byte(pipelinesJSON), &rec.Pipelines); err != nil {
				return nil, fmt.Errorf("store: unmarshal pipelines: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveAnalyzer upserts an analyzer record.
func (s *Store) SaveAnalyzer(ctx context.Context, rec analyzer.Record) error {
	pipelinesJSON, err := json.Marshal(rec.Pipelines)
	if err != nil {
		return fmt.Errorf("store: marshal pipelines: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyzers (id, name, source_url, pipelines, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_url = excluded.source_url,
			pipelines = excluded.pipelines,
			status = excluded.status`,
		rec.ID, rec.Name, rec.Source.URL, string(pipelinesJSON), string(rec.Status))
	if err != nil {
		return fmt.Errorf("store: save analyzer: %w", err)
	}
	return nil
}

// UpdateAnalyzerStatus updates only the status column.
func (s *Store) UpdateAnalyzerStatus(ctx context.Context, id string, status analyzer.Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE analyzers SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: update analyzer status: %w", err)
	}
	return nil
}

// DeleteAnalyzer removes an analyzer record.
func (s *Store) DeleteAnalyzer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analyzers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete analyzer: %w", err)
	}
	return nil
}

// SaveEvent inserts one row into the events table, the database leg of the
// Analyzer notification fan-out — the same message published to the
// notification bus is also durably recorded here.
func (s *Store) SaveEvent(ctx context.Context, analyzerID string, ts time.Time, videoKey, metadataKey, thumbKey string, triggered []string) error {
	triggeredJSON, err := json.Marshal(triggered)
	if err != nil {
		return fmt.Errorf("store: marshal triggered: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (analyzer_id, category, timestamp_ms, video_key, metadata_key, thumbnail_key, triggered)
		VALUES (?, 'Analyzer', ?, ?, ?, ?, ?)`,
		analyzerID, ts.UnixMilli(), videoKey, metadataKey, thumbKey, string(triggeredJSON))
	if err != nil {
		return fmt.Errorf("store: save event: %w", err)
	}
	return nil
}

// EventRecord is one row read back from the events table, used by the
// Telegram /events command and any future events-listing RPC.
type EventRecord struct {
	AnalyzerID string
	Timestamp  time.Time
	VideoKey   string
	Triggered  []string
}

// ListRecentEvents returns up to limit events across all analyzers, most
// recent first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analyzer_id, timestamp_ms, video_key, triggered
		FROM events ORDER BY timestamp_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var tsMs int64
		var triggeredJSON string
		if err := rows.Scan(&rec.AnalyzerID, &tsMs, &rec.VideoKey, &triggeredJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		rec.Timestamp = time.UnixMilli(tsMs)
		if triggeredJSON != "" {
			_ = json.Unmarshal([]byte(triggeredJSON), &rec.Triggered)
		}
		out = append(out, rec)
	}
	return out, nil
}
