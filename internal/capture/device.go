package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxloop/voxloop/internal/config"
)

// Stream delivers fixed-size sample blocks from an open audio device.
// Blocks is closed when the stream ends or Close is called.
type Stream interface {
	Blocks() <-chan []float32
	Close() error
}

// Device abstracts the microphone. Open acquires the device configured for
// mono capture at the requested sample rate; failure to acquire it is a
// *DeviceError.
type Device interface {
	Open(ctx context.Context, cfg config.CaptureConfig) (Stream, error)
}

// DeviceError reports that the microphone could not be acquired or failed
// mid-capture.
type DeviceError struct {
	Reason string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio device: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audio device: %s", e.Reason)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// MockDevice is an in-memory device for tests and demo mode. Blocks pushed
// via Push are delivered to the currently open stream.
type MockDevice struct {
	mu      sync.Mutex
	stream  *mockStream
	OpenErr error
}

func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

func (d *MockDevice) Open(_ context.Context, _ config.CaptureConfig) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, &DeviceError{Reason: "permission denied", Err: d.OpenErr}
	}
	d.stream = &mockStream{blocks: make(chan []float32, 64)}
	return d.stream, nil
}

// Push delivers one block to the open stream. It is a no-op when no stream
// is open or the stream was closed.
func (d *MockDevice) Push(block []float32) {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return
	}
	stream.push(block)
}

type mockStream struct {
	mu     sync.Mutex
	blocks chan []float32
	closed bool
}

func (s *mockStream) Blocks() <-chan []float32 { return s.blocks }

func (s *mockStream) push(block []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.blocks <- block:
	default:
	}
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.blocks)
	return nil
}
