package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSpeechConfig() config.SpeechConfig {
	return config.SpeechConfig{
		Mode:             "mock",
		Locale:           "en-US",
		SampleRate:       22050,
		Channels:         1,
		DiscoveryTimeout: 2000,
		PrepareWait:      500,
	}
}

func waitReady(t *testing.T, o *Output) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !o.IsReady() {
		if time.Now().After(deadline) {
			t.Fatal("output never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDiscoveryPollsUntilVoicesLoad(t *testing.T) {
	voices := []Voice{
		{ID: "v1", Name: "Other", Locale: "fr-FR"},
		{ID: "v2", Name: "Target", Locale: "en-US"},
	}
	catalog := NewMockCatalog(voices, 2) // first two polls report nothing
	sink := NewMockSink()
	out := NewOutput(testSpeechConfig(), catalog, NewMockSynth(), sink, newLogger())

	if out.IsReady() {
		t.Fatal("must not be ready before discovery")
	}
	out.StartDiscovery(context.Background())
	waitReady(t, out)

	out.mu.Lock()
	voice := out.voice
	out.mu.Unlock()
	if voice == nil || voice.ID != "v2" {
		t.Fatalf("expected locale-matched voice v2, got %+v", voice)
	}
}

func TestDiscoveryFallsBackToFirstVoice(t *testing.T) {
	voices := []Voice{{ID: "v1", Name: "Only", Locale: "ja-JP"}}
	out := NewOutput(testSpeechConfig(), NewMockCatalog(voices, 0), NewMockSynth(), NewMockSink(), newLogger())
	out.StartDiscovery(context.Background())
	waitReady(t, out)

	out.mu.Lock()
	voice := out.voice
	out.mu.Unlock()
	if voice == nil || voice.ID != "v1" {
		t.Fatalf("expected first-voice fallback, got %+v", voice)
	}
}

func TestPrepareBoundedWhenNotReady(t *testing.T) {
	cfg := testSpeechConfig()
	cfg.PrepareWait = 50
	out := NewOutput(cfg, NewMockCatalog(nil, 1000), NewMockSynth(), NewMockSink(), newLogger())

	start := time.Now()
	if err := out.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond || elapsed > 1*time.Second {
		t.Fatalf("prepare wait out of bounds: %v", elapsed)
	}
}

func TestSpeakPlaysThroughSink(t *testing.T) {
	sink := NewMockSink()
	out := NewOutput(testSpeechConfig(), NewMockCatalog([]Voice{{ID: "v", Locale: "en-US"}}, 0), NewMockSynth(), sink, newLogger())
	out.StartDiscovery(context.Background())
	waitReady(t, out)

	if err := out.Speak(context.Background(), "hello", 1.0, 1.0); err != nil {
		t.Fatalf("speak: %v", err)
	}
	played := sink.Played()
	if len(played) != 1 || !played[0].Final {
		t.Fatalf("expected one final chunk played, got %+v", played)
	}
}

func TestSpeakBeforeReadyRejected(t *testing.T) {
	out := NewOutput(testSpeechConfig(), NewMockCatalog(nil, 1000), NewMockSynth(), NewMockSink(), newLogger())

	err := out.Speak(context.Background(), "hello", 1.0, 1.0)
	var se *SpeechError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpeechError, got %v", err)
	}
}

func TestSpeakFailureIsSpeechError(t *testing.T) {
	synth := NewMockSynth()
	synth.Fail = true
	out := NewOutput(testSpeechConfig(), NewMockCatalog([]Voice{{ID: "v", Locale: "en-US"}}, 0), synth, NewMockSink(), newLogger())
	out.StartDiscovery(context.Background())
	waitReady(t, out)

	err := out.Speak(context.Background(), "hello", 1.0, 1.0)
	var se *SpeechError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpeechError, got %v", err)
	}
}

func TestNewUtteranceCancelsCurrent(t *testing.T) {
	synth := NewMockSynth()
	synth.Delay = 300 * time.Millisecond
	out := NewOutput(testSpeechConfig(), NewMockCatalog([]Voice{{ID: "v", Locale: "en-US"}}, 0), synth, NewMockSink(), newLogger())
	out.StartDiscovery(context.Background())
	waitReady(t, out)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- out.Speak(context.Background(), "first", 1.0, 1.0)
	}()
	time.Sleep(50 * time.Millisecond)

	synth2 := NewMockSynth()
	out.mu.Lock()
	out.synth = synth2
	out.mu.Unlock()
	if err := out.Speak(context.Background(), "second", 1.0, 1.0); err != nil {
		t.Fatalf("second speak: %v", err)
	}

	err := <-firstDone
	var se *SpeechError
	if !errors.As(err, &se) {
		t.Fatalf("interrupted utterance should fail with *SpeechError, got %v", err)
	}
}

func TestStopSafeWhenIdle(t *testing.T) {
	out := NewOutput(testSpeechConfig(), NewMockCatalog(nil, 1000), NewMockSynth(), NewMockSink(), newLogger())
	out.Stop() // nothing playing, engine never initialized
	out.Stop()
}
