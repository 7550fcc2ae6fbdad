// Package history persists latency bookkeeping for finished interaction
// cycles to SQLite so trends survive restarts. Only stage timings and
// failure text are stored, never transcripts or replies.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/pipeline"
)

// Store wraps a SQLite-backed cycle log. In ephemeral mode every write
// is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the cycle store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.Ephemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("cycle store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL,
    attempts INTEGER,
    transcribe_ms INTEGER,
    complete_ms INTEGER,
    speak_ms INTEGER,
    total_ms INTEGER,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendCycle writes the latency summary of one finished cycle. The
// record's transcript and reply fields are deliberately not persisted.
func (s *Store) AppendCycle(ctx context.Context, rec pipeline.CycleRecord) error {
	if s.cfg.Ephemeral || s.db == nil {
		return nil
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(cycle_id, attempts, transcribe_ms, complete_ms, speak_ms, total_ms, error, started_at, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID, rec.Attempts,
		rec.Metrics.CaptureToTranscript.Milliseconds(),
		rec.Metrics.TranscriptToCompletion.Milliseconds(),
		rec.Metrics.CompletionToSpeechDone.Milliseconds(),
		rec.Metrics.Total.Milliseconds(),
		rec.ErrorText, started.UTC(), s.clock().UTC())
	return err
}

// ListRecent retrieves up to limit cycle summaries ordered newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]pipeline.CycleRecord, error) {
	if s.cfg.Ephemeral || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, attempts, transcribe_ms, complete_ms, speak_ms, total_ms, error, started_at
		 FROM cycles ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []pipeline.CycleRecord
	for rows.Next() {
		var r pipeline.CycleRecord
		var transcribe, complete, speak, total int64
		var started string
		if err := rows.Scan(&r.CycleID, &r.Attempts,
			&transcribe, &complete, &speak, &total, &r.ErrorText, &started); err != nil {
			return nil, err
		}
		r.Metrics.CaptureToTranscript = time.Duration(transcribe) * time.Millisecond
		r.Metrics.TranscriptToCompletion = time.Duration(complete) * time.Millisecond
		r.Metrics.CompletionToSpeechDone = time.Duration(speak) * time.Millisecond
		r.Metrics.Total = time.Duration(total) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = ts
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Prune keeps the newest MaxCycles rows (called on startup).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.Ephemeral || s.db == nil || s.cfg.MaxCycles <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE id IN (
		SELECT id FROM cycles ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxCycles)
	return err
}
