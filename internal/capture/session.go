package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxloop/voxloop/internal/config"
)

// Unit owns the capture device and produces one Session per recording.
type Unit struct {
	cfg      config.CaptureConfig
	device   Device
	logger   *slog.Logger
	observer func(block []float32)
	mu       sync.Mutex
}

func NewUnit(cfg config.CaptureConfig, device Device, logger *slog.Logger) *Unit {
	return &Unit{
		cfg:    cfg,
		device: device,
		logger: logger.With(slog.String("component", "capture")),
	}
}

// SetObserver registers a waveform observer. Every block, including
// near-silence ones, is forwarded to it.
func (u *Unit) SetObserver(fn func(block []float32)) {
	u.mu.Lock()
	u.observer = fn
	u.mu.Unlock()
}

// Start acquires the device and begins buffering. Blocks whose maximum
// absolute amplitude stays below the silence threshold are not recorded,
// so silent padding never reaches the transcriber.
func (u *Unit) Start(ctx context.Context) (*Session, error) {
	stream, err := u.device.Open(ctx, u.cfg)
	if err != nil {
		if _, ok := err.(*DeviceError); ok {
			return nil, err
		}
		return nil, &DeviceError{Reason: "open failed", Err: err}
	}

	u.mu.Lock()
	observer := u.observer
	u.mu.Unlock()

	s := &Session{
		stream:    stream,
		threshold: u.cfg.SilenceThreshold,
		observer:  observer,
		logger:    u.logger,
	}
	s.wg.Add(1)
	go s.consume()
	return s, nil
}

// Session is one active recording. It exclusively owns the device stream
// until Stop releases it.
type Session struct {
	stream    Stream
	threshold float64
	observer  func(block []float32)
	logger    *slog.Logger

	mu      sync.Mutex
	blocks  [][]float32
	stopped bool
	result  []float32
	wg      sync.WaitGroup
}

// consume drains the stream until it closes. Blocks already buffered at
// stop time still belong to the recording, so they are appended even
// after Stop is underway; closing the stream is what cuts off new audio.
func (s *Session) consume() {
	defer s.wg.Done()
	for block := range s.stream.Blocks() {
		if s.observer != nil {
			s.observer(block)
		}
		if maxAbs(block) < s.threshold {
			continue
		}
		s.mu.Lock()
		s.blocks = append(s.blocks, block)
		s.mu.Unlock()
	}
}

// Stop halts capture, releases the stream, and returns all accepted blocks
// concatenated in arrival order. A zero-length result means no speech was
// captured; that is a valid terminal state, not an error. Stop is
// idempotent: repeat calls return the same buffer without touching the
// stream again.
func (s *Session) Stop() []float32 {
	s.mu.Lock()
	if s.stopped {
		result := s.result
		s.mu.Unlock()
		return result
	}
	s.stopped = true
	s.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		s.logger.Warn("failed to close capture stream", slog.String("error", err.Error()))
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.blocks {
		total += len(b)
	}
	s.result = make([]float32, 0, total)
	for _, b := range s.blocks {
		s.result = append(s.result, b...)
	}
	s.blocks = nil
	return s.result
}

func maxAbs(block []float32) float64 {
	var peak float64
	for _, v := range block {
		a := float64(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}
