package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

// Output wraps the synthesis capability behind an awaitable contract:
// Speak resolves when playback completes or fails, Prepare lets the
// coordinator warm the engine up concurrently with the network request.
type Output struct {
	cfg     config.SpeechConfig
	catalog Catalog
	synth   Synthesizer
	sink    Sink
	logger  *slog.Logger

	mu            sync.Mutex
	voice         *Voice
	ready         bool
	readyCh       chan struct{}
	cancelCurrent context.CancelFunc
	utterSeq      uint64
}

func NewOutput(cfg config.SpeechConfig, catalog Catalog, synth Synthesizer, sink Sink, logger *slog.Logger) *Output {
	return &Output{
		cfg:     cfg,
		catalog: catalog,
		synth:   synth,
		sink:    sink,
		logger:  logger.With(slog.String("component", "speech")),
		readyCh: make(chan struct{}),
	}
}

// StartDiscovery polls the catalog until it reports voices or the
// discovery deadline passes. It returns immediately; readiness is
// observable through Ready and Prepare.
func (o *Output) StartDiscovery(ctx context.Context) {
	go o.discover(ctx)
}

func (o *Output) discover(ctx context.Context) {
	deadline := time.Now().Add(time.Duration(o.cfg.DiscoveryTimeout) * time.Millisecond)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		voices, err := o.catalog.Voices(ctx)
		if err != nil {
			o.logger.Warn("voice discovery failed", slog.String("error", err.Error()))
		}
		if len(voices) > 0 {
			o.selectVoice(voices)
			return
		}
		if time.Now().After(deadline) {
			o.logger.Warn("voice discovery timed out with no voices")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Output) selectVoice(voices []Voice) {
	chosen := voices[0]
	for _, v := range voices {
		if strings.EqualFold(v.Locale, o.cfg.Locale) {
			chosen = v
			break
		}
	}

	o.mu.Lock()
	o.voice = &chosen
	o.ready = true
	close(o.readyCh)
	o.mu.Unlock()

	o.logger.Info("voice selected",
		slog.String("voice", chosen.Name),
		slog.String("locale", chosen.Locale))
}

// IsReady reports whether voice discovery has completed.
func (o *Output) IsReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// Prepare resolves once the engine is ready, or after a short bounded
// wait if discovery is still pending. It is a warm-up, not a gate: a
// still-pending engine is reported by Speak, not here.
func (o *Output) Prepare(ctx context.Context) error {
	if o.IsReady() {
		return nil
	}
	wait := time.Duration(o.cfg.PrepareWait) * time.Millisecond
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-o.readyCh:
		return nil
	case <-timer.C:
		o.logger.Debug("prepare elapsed before discovery finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak cancels any playing utterance and plays text with the given rate
// and volume. It returns when playback finishes, or a *SpeechError when
// the engine is not ready or playback fails.
func (o *Output) Speak(ctx context.Context, text string, rate, volume float64) error {
	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return &SpeechError{Reason: "speech engine not ready"}
	}
	if o.cancelCurrent != nil {
		o.cancelCurrent()
	}
	utterCtx, cancel := context.WithCancel(ctx)
	o.cancelCurrent = cancel
	o.utterSeq++
	seq := o.utterSeq
	voice := *o.voice
	synth := o.synth
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		// Only clear the slot if no newer utterance has taken it.
		if o.utterSeq == seq {
			o.cancelCurrent = nil
		}
		o.mu.Unlock()
	}()

	req := SynthRequest{
		Text:       text,
		VoiceID:    voice.ID,
		Rate:       rate,
		Volume:     volume,
		SampleRate: o.cfg.SampleRate,
		Channels:   o.cfg.Channels,
	}
	chunks, errs := synth.Synthesize(utterCtx, req)

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				break
			}
			if err := o.sink.Play(utterCtx, chunk); err != nil {
				return &SpeechError{Reason: "playback failed", Err: err}
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return &SpeechError{Reason: "synthesis failed", Err: err}
			}
			errs = nil
		case <-utterCtx.Done():
			return &SpeechError{Reason: "utterance interrupted", Err: utterCtx.Err()}
		}
		if chunks == nil && errs == nil {
			return nil
		}
	}
}

// Stop cancels the current utterance, if any. Safe to call at any time,
// including before the engine ever initialized.
func (o *Output) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelCurrent != nil {
		o.cancelCurrent()
		o.cancelCurrent = nil
	}
}

// NewSynthesizer builds the configured backend.
func NewSynthesizer(cfg config.SpeechConfig) (Synthesizer, Catalog, Sink, error) {
	switch cfg.Mode {
	case "mock":
		voices := []Voice{
			{ID: "mock-en", Name: "Mock English", Locale: cfg.Locale, Default: true},
		}
		return NewMockSynth(), NewMockCatalog(voices, 0), NewMockSink(), nil
	case "exec":
		synth, err := NewExecSynth(cfg.Command)
		if err != nil {
			return nil, nil, nil, err
		}
		sink, err := NewExecSink(cfg.SinkCommand)
		if err != nil {
			return nil, nil, nil, err
		}
		catalog := NewStaticCatalog([]Voice{
			{ID: "default", Name: "Default", Locale: cfg.Locale, Default: true},
		})
		return synth, catalog, sink, nil
	default:
		return nil, nil, nil, &SpeechError{Reason: "unknown speech mode " + cfg.Mode}
	}
}
