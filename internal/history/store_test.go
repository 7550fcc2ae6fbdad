package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/pipeline"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.HistoryConfig{Ephemeral: true}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendCycle(context.Background(), pipeline.CycleRecord{CycleID: "c-1"}); err != nil {
		t.Fatalf("append in ephemeral mode: %v", err)
	}
	recs, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list in ephemeral mode: %v", err)
	}
	if recs != nil {
		t.Fatalf("ephemeral store returned rows: %v", recs)
	}
}

func TestAppendAndListRecent(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "cycles.db"), MaxCycles: 100}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open cycle store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	rec := pipeline.CycleRecord{
		CycleID:  "cycle-1",
		Attempts: 2,
		Metrics: pipeline.LatencyMetrics{
			CaptureToTranscript:    250 * time.Millisecond,
			TranscriptToCompletion: 900 * time.Millisecond,
			CompletionToSpeechDone: 1200 * time.Millisecond,
			Total:                  2350 * time.Millisecond,
		},
		StartedAt: time.Now(),
	}
	if err := s.AppendCycle(context.Background(), rec); err != nil {
		t.Fatalf("append cycle: %v", err)
	}

	recs, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(recs))
	}
	got := recs[0]
	if got.CycleID != "cycle-1" || got.Attempts != 2 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.Metrics.Total != 2350*time.Millisecond {
		t.Fatalf("total = %v", got.Metrics.Total)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "cycles.db"), MaxCycles: 2}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open cycle store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		i := i
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		rec := pipeline.CycleRecord{CycleID: fmt.Sprintf("cycle-%d", i)}
		if err := s.AppendCycle(context.Background(), rec); err != nil {
			t.Fatalf("append cycle %d: %v", i, err)
		}
	}

	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	recs, err := s.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 cycles after prune, got %d", len(recs))
	}
	if recs[0].CycleID != "cycle-3" || recs[1].CycleID != "cycle-2" {
		t.Fatalf("wrong survivors: %s, %s", recs[0].CycleID, recs[1].CycleID)
	}
}
