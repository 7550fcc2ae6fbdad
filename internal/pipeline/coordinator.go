// Package pipeline drives a full voice interaction cycle through its
// stages: capture, transcription, completion, and speech playback. The
// coordinator owns the cycle state machine and records per-stage latency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxloop/voxloop/internal/completion"
	"github.com/voxloop/voxloop/internal/config"
)

var (
	ErrNoAudioCaptured = errors.New("no audio captured")
	ErrNotReady        = errors.New("voice pipeline is not ready yet")
	ErrCycleActive     = errors.New("an interaction cycle is already active")
)

// State identifies where the coordinator is in the interaction cycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateCompleting
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateCompleting:
		return "completing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// VoiceSettings are the per-cycle knobs a frontend may adjust between
// cycles. They are read once at the start of each cycle.
type VoiceSettings struct {
	SpeechRate     float64
	SpeechVolume   float64
	CachingEnabled bool
	MaxRetries     int
}

// Recording is an in-progress capture that yields its accepted samples
// when stopped.
type Recording interface {
	Stop() []float32
}

// Recorder opens the microphone and starts accumulating audio.
type Recorder interface {
	Start(ctx context.Context) (Recording, error)
}

// Transcriber turns captured samples into text.
type Transcriber interface {
	Ready() bool
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Completer produces an assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, transcript string, opts completion.Options) (string, error)
}

// Speaker plays a reply out loud.
type Speaker interface {
	IsReady() bool
	Prepare(ctx context.Context) error
	Speak(ctx context.Context, text string, rate, volume float64) error
	Stop()
}

// CycleRecord is the durable latency summary of one finished cycle.
// Transcripts and replies never leave the process.
type CycleRecord struct {
	CycleID   string
	Attempts  int
	Metrics   LatencyMetrics
	ErrorText string
	StartedAt time.Time
}

// CycleStore persists finished cycle records.
type CycleStore interface {
	AppendCycle(ctx context.Context, rec CycleRecord) error
}

// CycleResult is returned to the caller when a cycle ends.
type CycleResult struct {
	CycleID    string
	Transcript string
	Reply      string
	Attempts   int
	Latency    LatencyMetrics
	// SpeechErr reports a playback failure. It does not fail the cycle;
	// the reply text is still returned.
	SpeechErr error
}

// Coordinator runs at most one interaction cycle at a time.
type Coordinator struct {
	cfg         config.PipelineConfig
	language    string
	recorder    Recorder
	transcriber Transcriber
	completer   Completer
	speaker     Speaker
	store       CycleStore
	history     *History
	logger      *slog.Logger

	cyclesTotal  metric.Int64Counter
	stageSeconds metric.Float64Histogram

	now   func() time.Time
	sleep completion.SleepFunc

	mu          sync.Mutex
	state       State
	settings    VoiceSettings
	recording   Recording
	observer    func(State)
	recordStart time.Time
}

func NewCoordinator(cfg config.PipelineConfig, language string, recorder Recorder, transcriber Transcriber, completer Completer, speaker Speaker, store CycleStore, logger *slog.Logger) *Coordinator {
	meter := otel.Meter("github.com/voxloop/voxloop/internal/pipeline")
	cycles, _ := meter.Int64Counter("voxloop_cycles_total",
		metric.WithDescription("Completed interaction cycles by outcome"))
	stages, _ := meter.Float64Histogram("voxloop_stage_seconds",
		metric.WithDescription("Per-stage latency of interaction cycles"),
		metric.WithUnit("s"))

	return &Coordinator{
		cfg:          cfg,
		language:     language,
		recorder:     recorder,
		transcriber:  transcriber,
		completer:    completer,
		speaker:      speaker,
		store:        store,
		history:      NewHistory(cfg.HistorySize),
		logger:       logger.With("component", "pipeline"),
		cyclesTotal:  cycles,
		stageSeconds: stages,
		now:          time.Now,
		state:        StateIdle,
		settings: VoiceSettings{
			SpeechRate:     cfg.SpeechRate,
			SpeechVolume:   cfg.SpeechVolume,
			CachingEnabled: cfg.CachingEnabled,
			MaxRetries:     cfg.MaxRetries,
		},
	}
}

// SetObserver registers a callback invoked on every state transition.
// Must be called before the first cycle.
func (c *Coordinator) SetObserver(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Settings() VoiceSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Coordinator) SetSettings(s VoiceSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.MaxRetries < 1 {
		s.MaxRetries = 1
	}
	c.settings = s
}

// Ready reports whether both the transcription worker and the speech
// output have finished initializing.
func (c *Coordinator) Ready() bool {
	return c.transcriber.Ready() && c.speaker.IsReady()
}

// History exposes the bounded record of recent cycle totals.
func (c *Coordinator) History() *History {
	return c.history
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// StartRecording begins a new cycle. It fails when a cycle is already
// active or the pipeline has not finished initializing.
func (c *Coordinator) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCycleActive
	}
	if !c.transcriber.Ready() || !c.speaker.IsReady() {
		c.mu.Unlock()
		return ErrNotReady
	}
	// Claim the cycle before releasing the lock so a racing caller
	// cannot open a second capture stream.
	c.state = StateRecording
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(StateRecording)
	}

	rec, err := c.recorder.Start(ctx)
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("open capture device: %w", err)
	}

	c.mu.Lock()
	c.recording = rec
	c.recordStart = c.now()
	c.mu.Unlock()
	c.logger.Info("recording started")
	return nil
}

// StopRecording ends capture and runs the remaining stages to
// completion. Calling it while no recording is active is a no-op.
func (c *Coordinator) StopRecording(ctx context.Context) (CycleResult, error) {
	c.mu.Lock()
	if c.state != StateRecording || c.recording == nil {
		c.mu.Unlock()
		return CycleResult{}, nil
	}
	rec := c.recording
	c.recording = nil
	settings := c.settings
	startedAt := c.recordStart
	c.mu.Unlock()

	result := CycleResult{CycleID: uuid.NewString()}
	samples := rec.Stop()
	stopped := c.now()

	c.setState(StateTranscribing)
	if len(samples) == 0 {
		return c.fail(ctx, result, startedAt, stopped, ErrNoAudioCaptured)
	}
	c.logger.Info("recording stopped", "cycle", result.CycleID, "samples", len(samples))

	transcript, err := c.transcriber.Transcribe(ctx, samples)
	if err != nil {
		return c.fail(ctx, result, startedAt, stopped, fmt.Errorf("transcribe: %w", err))
	}
	result.Transcript = transcript
	transcribed := c.now()
	result.Latency.CaptureToTranscript = transcribed.Sub(stopped)

	c.setState(StateCompleting)

	// Warm the speech output while the completion request is in flight
	// so playback can begin as soon as the reply lands.
	prepDone := make(chan struct{})
	go func() {
		defer close(prepDone)
		if err := c.speaker.Prepare(ctx); err != nil {
			c.logger.Warn("speech prepare failed", "error", err)
		}
	}()

	opts := completion.Options{CachingEnabled: settings.CachingEnabled, Language: c.language}
	reply, attempts, err := completion.Retry(ctx, settings.MaxRetries, c.sleep, func(ctx context.Context) (string, error) {
		return c.completer.Complete(ctx, transcript, opts)
	})
	result.Attempts = attempts
	<-prepDone
	if err != nil {
		return c.fail(ctx, result, startedAt, stopped, fmt.Errorf("complete: %w", err))
	}
	result.Reply = reply
	completed := c.now()
	result.Latency.TranscriptToCompletion = completed.Sub(transcribed)

	c.setState(StateSpeaking)
	if err := c.speaker.Speak(ctx, reply, settings.SpeechRate, settings.SpeechVolume); err != nil {
		// Playback failure does not lose the reply.
		c.logger.Warn("speech playback failed", "cycle", result.CycleID, "error", err)
		result.SpeechErr = err
	}
	done := c.now()
	result.Latency.CompletionToSpeechDone = done.Sub(completed)
	result.Latency.Total = done.Sub(stopped)

	c.history.Append(result.Latency.Total)
	c.record(ctx, result, startedAt, "ok")
	c.setState(StateIdle)
	c.logger.Info("cycle complete", "cycle", result.CycleID,
		"total_ms", result.Latency.Total.Milliseconds(), "attempts", attempts)
	return result, nil
}

// fail records whatever latency the cycle accumulated, surfaces the error
// state, and returns the coordinator to idle.
func (c *Coordinator) fail(ctx context.Context, result CycleResult, startedAt, stopped time.Time, err error) (CycleResult, error) {
	result.Latency.Total = c.now().Sub(stopped)
	c.setState(StateError)
	c.record(ctx, result, startedAt, err.Error())
	c.setState(StateIdle)
	c.logger.Error("cycle failed", "cycle", result.CycleID, "error", err)
	return result, err
}

func (c *Coordinator) record(ctx context.Context, result CycleResult, startedAt time.Time, outcome string) {
	status := "ok"
	errText := ""
	if outcome != "ok" {
		status = "error"
		errText = outcome
	}
	c.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status)))
	for stage, d := range map[string]time.Duration{
		"transcribe": result.Latency.CaptureToTranscript,
		"complete":   result.Latency.TranscriptToCompletion,
		"speak":      result.Latency.CompletionToSpeechDone,
	} {
		if d > 0 {
			c.stageSeconds.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
		}
	}

	if c.store == nil {
		return
	}
	rec := CycleRecord{
		CycleID:   result.CycleID,
		Attempts:  result.Attempts,
		Metrics:   result.Latency,
		ErrorText: errText,
		StartedAt: startedAt,
	}
	if err := c.store.AppendCycle(ctx, rec); err != nil {
		c.logger.Warn("cycle record not persisted", "cycle", result.CycleID, "error", err)
	}
}
