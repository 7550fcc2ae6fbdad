package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxloop/voxloop/internal/capture"
	"github.com/voxloop/voxloop/internal/config"
)

type execRecognizer struct {
	cmd []string
	cfg config.TranscriberConfig
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecRecognizer transcribes by invoking an external command (such as a
// whisper.cpp wrapper) with a temp WAV file and reading JSON from stdout.
func NewExecRecognizer(cfg config.TranscriberConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Load(_ context.Context, progress func(string)) error {
	if progress != nil {
		progress("locating transcriber binary")
	}
	if _, err := exec.LookPath(r.cmd[0]); err != nil {
		return fmt.Errorf("transcriber binary not found: %w", err)
	}
	if r.cfg.ModelPath != "" {
		if progress != nil {
			progress("verifying model file")
		}
		if _, err := os.Stat(r.cfg.ModelPath); err != nil {
			return fmt.Errorf("transcriber model unavailable: %w", err)
		}
	}
	return nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxloop_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := capture.WriteWAV(file, samples, 16000); err != nil {
		return "", err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}
	// Chunking tuned for latency over accuracy.
	args = append(args,
		"--chunk-length", fmt.Sprintf("%g", r.cfg.ChunkLength),
		"--stride-length", fmt.Sprintf("%g", r.cfg.StrideLength),
	)

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("transcriber command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode transcriber response: %w", err)
	}
	return resp.Text, nil
}
