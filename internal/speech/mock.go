package speech

import (
	"context"
	"sync"
	"time"
)

// MockCatalog reports a configurable voice list after a configurable
// number of polls, mimicking platforms that load voices lazily.
type MockCatalog struct {
	mu         sync.Mutex
	voices     []Voice
	readyAfter int
	polls      int
}

func NewMockCatalog(voices []Voice, readyAfter int) *MockCatalog {
	return &MockCatalog{voices: voices, readyAfter: readyAfter}
}

func (c *MockCatalog) Voices(_ context.Context) ([]Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.polls <= c.readyAfter {
		return nil, nil
	}
	return append([]Voice(nil), c.voices...), nil
}

// MockSynth emits a single final chunk after a short delay.
type MockSynth struct {
	Delay time.Duration
	Fail  bool
}

func NewMockSynth() *MockSynth {
	return &MockSynth{Delay: 10 * time.Millisecond}
}

func (m *MockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.Delay):
		}
		if m.Fail {
			errs <- &SpeechError{Reason: "synthesis failed"}
			return
		}
		chunks <- Chunk{
			Sequence:   0,
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
			PCM:        make([]byte, 320),
			Final:      true,
		}
	}()
	return chunks, errs
}

// MockSink records played chunks.
type MockSink struct {
	mu     sync.Mutex
	played []Chunk
	Err    error
}

func NewMockSink() *MockSink { return &MockSink{} }

func (s *MockSink) Play(_ context.Context, chunk Chunk) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.played = append(s.played, chunk)
	s.mu.Unlock()
	return nil
}

func (s *MockSink) Close() error { return nil }

func (s *MockSink) Played() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.played...)
}
