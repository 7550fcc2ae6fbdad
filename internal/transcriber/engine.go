package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxloop/voxloop/internal/config"
)

var (
	// ErrNotInitialized is returned when Transcribe is called before a
	// successful Init.
	ErrNotInitialized = errors.New("transcriber not initialized")
	// ErrEmptyAudio is returned for zero-length sample buffers.
	ErrEmptyAudio = errors.New("no audio data provided")
	// ErrBusy rejects a second transcription while one is in flight. The
	// boundary handles one request at a time; concurrent requests are a
	// caller bug, not something to queue silently.
	ErrBusy = errors.New("transcription already in flight")
)

// LoadError reports that the transcription capability failed to initialize,
// for example because the model could not be fetched.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("transcription model load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type engineState int

const (
	stateUninitialized engineState = iota
	stateLoading
	stateReady
)

// Engine enforces the worker boundary semantics around a Recognizer:
// idempotent init, fail-fast input checks, a single-slot in-flight guard,
// and conversion of internal faults into errors.
type Engine struct {
	cfg    config.TranscriberConfig
	rec    Recognizer
	logger *slog.Logger

	mu       sync.Mutex
	state    engineState
	inflight bool
	load     *loadAttempt
}

// loadAttempt carries the outcome of one model load to every Init call
// waiting on it. err is set before done is closed.
type loadAttempt struct {
	done chan struct{}
	err  error
}

func NewEngine(cfg config.TranscriberConfig, rec Recognizer, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		rec:    rec,
		logger: logger.With(slog.String("component", "transcriber")),
	}
}

// Init loads the recognizer. Already ready means an immediate nil return;
// a concurrent Init waits for the in-progress load. Intermediate progress
// is reported through the callback. Failures leave the engine
// uninitialized so a later Init can retry.
func (e *Engine) Init(ctx context.Context, progress func(message string)) error {
	e.mu.Lock()
	switch e.state {
	case stateReady:
		e.mu.Unlock()
		return nil
	case stateLoading:
		attempt := e.load
		e.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &loadAttempt{done: make(chan struct{})}
	e.state = stateLoading
	e.load = attempt
	e.mu.Unlock()

	err := e.rec.Load(ctx, func(msg string) {
		e.logger.Info("loading transcription model", slog.String("stage", msg))
		if progress != nil {
			progress(msg)
		}
	})

	e.mu.Lock()
	if err != nil {
		e.state = stateUninitialized
		attempt.err = &LoadError{Err: err}
	} else {
		e.state = stateReady
		e.logger.Info("transcription model ready")
	}
	close(attempt.done)
	e.mu.Unlock()
	return attempt.err
}

// Ready reports whether the engine accepts transcription requests.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// Transcribe produces exactly one trimmed transcript for the buffer. An
// empty transcript is a valid result (nothing intelligible). Panics inside
// the recognizer are converted to errors rather than taking the worker down.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (text string, err error) {
	e.mu.Lock()
	if e.state != stateReady {
		e.mu.Unlock()
		return "", ErrNotInitialized
	}
	if e.inflight {
		e.mu.Unlock()
		return "", ErrBusy
	}
	e.inflight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inflight = false
		e.mu.Unlock()
	}()

	if len(samples) == 0 {
		return "", ErrEmptyAudio
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recognizer panic", slog.Any("panic", r))
			text = ""
			err = fmt.Errorf("transcription failed: %v", r)
		}
	}()

	raw, err := e.rec.Transcribe(ctx, samples)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// NewRecognizer builds the configured backend.
func NewRecognizer(cfg config.TranscriberConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "wasm":
		return NewWASMRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transcriber mode %q", cfg.Mode)
	}
}
