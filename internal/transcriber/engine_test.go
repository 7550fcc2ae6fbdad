package transcriber

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRecognizer struct {
	loadErr     error
	loadCalls   atomic.Int32
	result      string
	err         error
	delay       time.Duration
	shouldPanic bool
}

func (f *fakeRecognizer) Load(_ context.Context, progress func(string)) error {
	f.loadCalls.Add(1)
	if progress != nil {
		progress("loading")
	}
	return f.loadErr
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, _ []float32) (string, error) {
	if f.shouldPanic {
		panic("recognizer blew up")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.result, f.err
}

func newEngine(rec Recognizer) *Engine {
	return NewEngine(config.TranscriberConfig{Mode: "mock", ChunkLength: 30, StrideLength: 5}, rec, newLogger())
}

func TestInitIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{result: "hello"}
	eng := newEngine(rec)

	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if got := rec.loadCalls.Load(); got != 1 {
		t.Fatalf("load should run once, ran %d times", got)
	}
	if !eng.Ready() {
		t.Fatal("engine should be ready")
	}
}

type slowLoadRecognizer struct {
	fakeRecognizer
	release chan struct{}
}

func (f *slowLoadRecognizer) Load(_ context.Context, _ func(string)) error {
	f.loadCalls.Add(1)
	<-f.release
	return f.loadErr
}

func TestConcurrentInitWaitsForLoad(t *testing.T) {
	rec := &slowLoadRecognizer{release: make(chan struct{})}
	eng := newEngine(rec)

	errCh := make(chan error, 2)
	go func() { errCh <- eng.Init(context.Background(), nil) }()
	go func() { errCh <- eng.Init(context.Background(), nil) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-errCh:
		t.Fatalf("init returned before load finished: %v", err)
	default:
	}

	close(rec.release)
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("init: %v", err)
		}
	}
	if got := rec.loadCalls.Load(); got != 1 {
		t.Fatalf("load ran %d times, want 1", got)
	}
	if !eng.Ready() {
		t.Fatal("engine not ready after init")
	}
}

func TestConcurrentInitSharesFailure(t *testing.T) {
	rec := &slowLoadRecognizer{release: make(chan struct{})}
	rec.loadErr = errors.New("model fetch failed")
	eng := newEngine(rec)

	errCh := make(chan error, 2)
	go func() { errCh <- eng.Init(context.Background(), nil) }()
	go func() { errCh <- eng.Init(context.Background(), nil) }()

	// Let both calls park on the same load before it fails.
	time.Sleep(20 * time.Millisecond)
	close(rec.release)

	for i := 0; i < 2; i++ {
		err := <-errCh
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("expected *LoadError, got %v", err)
		}
	}
	if got := rec.loadCalls.Load(); got != 1 {
		t.Fatalf("load ran %d times, want 1", got)
	}
	if eng.Ready() {
		t.Fatal("engine must not be ready after failed load")
	}
}

func TestInitFailureAllowsRetry(t *testing.T) {
	rec := &fakeRecognizer{loadErr: errors.New("model fetch failed")}
	eng := newEngine(rec)

	err := eng.Init(context.Background(), nil)
	if err == nil {
		t.Fatal("expected load error")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
	if eng.Ready() {
		t.Fatal("engine must not be ready after failed load")
	}

	rec.loadErr = nil
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("retry init: %v", err)
	}
	if !eng.Ready() {
		t.Fatal("engine should be ready after retry")
	}
}

func TestTranscribeBeforeInit(t *testing.T) {
	eng := newEngine(&fakeRecognizer{})
	_, err := eng.Transcribe(context.Background(), []float32{0.1})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestTranscribeEmptyBuffer(t *testing.T) {
	eng := newEngine(&fakeRecognizer{})
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := eng.Transcribe(context.Background(), nil)
	if !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestSecondConcurrentRequestRejected(t *testing.T) {
	rec := &fakeRecognizer{result: "slow", delay: 200 * time.Millisecond}
	eng := newEngine(rec)
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := eng.Transcribe(context.Background(), []float32{0.1}); err != nil {
			t.Errorf("first transcribe: %v", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := eng.Transcribe(context.Background(), []float32{0.2})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	<-done
}

func TestTranscriptIsTrimmed(t *testing.T) {
	rec := &fakeRecognizer{result: "  hello there \n"}
	eng := newEngine(rec)
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	text, err := eng.Transcribe(context.Background(), []float32{0.1})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
}

func TestRecognizerPanicBecomesError(t *testing.T) {
	rec := &fakeRecognizer{shouldPanic: true}
	eng := newEngine(rec)
	if err := eng.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := eng.Transcribe(context.Background(), []float32{0.1})
	if err == nil {
		t.Fatal("expected error from panicking recognizer")
	}
	// The guard must be released so the next request is accepted.
	rec.shouldPanic = false
	rec.result = "ok"
	text, err := eng.Transcribe(context.Background(), []float32{0.1})
	if err != nil || text != "ok" {
		t.Fatalf("engine unusable after panic: %q %v", text, err)
	}
}
