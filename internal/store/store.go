// Package store persists transcriptions in an embedded SQLite database so
// the wearable's transcript history survives power cycles, and tracks which
// rows still await backup over the uplink.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/earshotlabs/earshot/pkg/device"
)

// Config controls the transcription store.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// RetentionDays prunes synced transcriptions older than this many
	// days. Zero disables pruning.
	RetentionDays int
}

// Transcription is one persisted row.
type Transcription struct {
	ID         int64
	CapturedAt time.Time
	Text       string
	Synced     bool
}

// Store is a SQLite-backed transcription archive. Methods are safe for
// concurrent use; database/sql serializes access.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *slog.Logger
	clock func() time.Time
}

var _ device.Storage = (*Store)(nil)

// Open creates the database file (and its directory) if needed, applies the
// schema, and prunes expired rows.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path must not be empty")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("transcription prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    captured_at TIMESTAMP NOT NULL,
    text TEXT NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_synced ON transcriptions(synced);
CREATE INDEX IF NOT EXISTS idx_transcriptions_captured ON transcriptions(captured_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveTranscription appends one transcription row.
func (s *Store) SaveTranscription(ctx context.Context, capturedAt time.Time, text string) error {
	if capturedAt.IsZero() {
		capturedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(captured_at, text) VALUES(?, ?)`,
		capturedAt.UTC().Format(time.RFC3339Nano), text)
	if err != nil {
		return fmt.Errorf("store: save transcription: %w", err)
	}
	return nil
}

// UnsyncedTranscriptions returns the texts not yet backed up, oldest first.
func (s *Store) UnsyncedTranscriptions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM transcriptions WHERE synced = 0 ORDER BY captured_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query unsynced: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("store: scan unsynced: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// MarkTranscriptionsSynced flags every unsynced row as backed up.
func (s *Store) MarkTranscriptionsSynced(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET synced = 1 WHERE synced = 0`)
	if err != nil {
		return fmt.Errorf("store: mark synced: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. Used on boot to pre-load
// the display history and by the status endpoint.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transcription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, captured_at, text, synced FROM transcriptions
		 ORDER BY captured_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		var tr Transcription
		var captured string
		var synced int
		if err := rows.Scan(&tr.ID, &captured, &tr.Text, &synced); err != nil {
			return nil, fmt.Errorf("store: scan recent: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, captured); err == nil {
			tr.CapturedAt = ts
		}
		tr.Synced = synced != 0
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Count returns the total number of stored transcriptions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Prune deletes synced transcriptions older than the retention window.
// Unsynced rows are kept regardless of age — they still owe a backup.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transcriptions WHERE synced = 1 AND captured_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: prune: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Debug("pruned transcriptions", slog.Int64("rows", n))
	}
	return nil
}
