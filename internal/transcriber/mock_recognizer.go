package transcriber

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Load(_ context.Context, progress func(string)) error {
	if progress != nil {
		progress("mock recognizer ready")
	}
	return nil
}

func (m *mockRecognizer) Transcribe(_ context.Context, samples []float32) (string, error) {
	return fmt.Sprintf("[transcript samples=%d]", len(samples)), nil
}
