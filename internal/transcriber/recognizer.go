package transcriber

import "context"

// Recognizer abstracts the transcription capability. Load is the one-time,
// potentially very slow model initialization; Transcribe turns one mono
// sample buffer into text.
type Recognizer interface {
	Load(ctx context.Context, progress func(message string)) error
	Transcribe(ctx context.Context, samples []float32) (string, error)
}
