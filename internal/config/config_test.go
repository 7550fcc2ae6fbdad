package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Capture.SilenceThreshold != 0.01 {
		t.Fatalf("expected default silence threshold 0.01, got %v", cfg.Capture.SilenceThreshold)
	}
	if cfg.Completion.TimeoutMS != 8000 {
		t.Fatalf("expected default completion timeout 8000ms, got %d", cfg.Completion.TimeoutMS)
	}
	if cfg.RateLimit.MaxRequests != 30 || cfg.RateLimit.WindowMS != 60000 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXLOOP_CAPTURE_BLOCK_SIZE", "2048")
	t.Setenv("VOXLOOP_CAPTURE_SILENCE_THRESHOLD", "0.02")
	t.Setenv("VOXLOOP_COMPLETION_MODE", "http")
	t.Setenv("VOXLOOP_COMPLETION_API_KEY", "test-key")
	t.Setenv("VOXLOOP_COMPLETION_TIMEOUT_MS", "5000")
	t.Setenv("VOXLOOP_PIPELINE_MAX_RETRIES", "5")
	t.Setenv("VOXLOOP_PIPELINE_CACHING_ENABLED", "false")
	t.Setenv("VOXLOOP_SPEECH_LOCALE", "de-DE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.BlockSize != 2048 {
		t.Fatalf("expected block size override, got %d", cfg.Capture.BlockSize)
	}
	if cfg.Capture.SilenceThreshold != 0.02 {
		t.Fatalf("expected silence threshold override, got %v", cfg.Capture.SilenceThreshold)
	}
	if cfg.Completion.Mode != "http" || cfg.Completion.APIKey != "test-key" {
		t.Fatalf("expected completion overrides, got %+v", cfg.Completion)
	}
	if cfg.Completion.TimeoutMS != 5000 {
		t.Fatalf("expected timeout override, got %d", cfg.Completion.TimeoutMS)
	}
	if cfg.Pipeline.MaxRetries != 5 {
		t.Fatalf("expected max retries override, got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.CachingEnabled {
		t.Fatal("expected caching disabled")
	}
	if cfg.Speech.Locale != "de-DE" {
		t.Fatalf("expected locale override, got %s", cfg.Speech.Locale)
	}
}

func TestHTTPModeRequiresAPIKey(t *testing.T) {
	t.Setenv("VOXLOOP_COMPLETION_MODE", "http")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when http mode has no api key")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxloop.yaml")
	data := []byte("runtime_name: demo\ncapture:\n  block_size: 3072\npipeline:\n  history_size: 5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "demo" {
		t.Fatalf("expected runtime name from file, got %s", cfg.RuntimeName)
	}
	if cfg.Capture.BlockSize != 3072 {
		t.Fatalf("expected block size from file, got %d", cfg.Capture.BlockSize)
	}
	if cfg.Pipeline.HistorySize != 5 {
		t.Fatalf("expected history size from file, got %d", cfg.Pipeline.HistorySize)
	}
}

func TestValidateRejectsBadBlockSize(t *testing.T) {
	t.Setenv("VOXLOOP_CAPTURE_BLOCK_SIZE", "512")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for out-of-range block size")
	}
}
