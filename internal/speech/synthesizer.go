package speech

import (
	"context"
	"fmt"
)

// Voice describes one synthesis voice reported by the platform.
type Voice struct {
	ID      string
	Name    string
	Locale  string
	Default bool
}

// Catalog lists available voices. Discovery is asynchronous on most
// platforms: calls may legitimately return an empty list until the engine
// has loaded its voices, so the Output polls.
type Catalog interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// SynthRequest contains the parameters for one utterance.
type SynthRequest struct {
	Text       string
	VoiceID    string
	Rate       float64
	Volume     float64
	SampleRate int
	Channels   int
}

// Chunk is one piece of synthesized PCM.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. The chunk channel is
// closed when the utterance is complete; errors arrive on the second
// channel.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error)
}

// Sink plays synthesized chunks.
type Sink interface {
	Play(ctx context.Context, chunk Chunk) error
	Close() error
}

// SpeechError reports a playback or engine fault. It is the one stage
// failure that must not abort the whole interaction cycle.
type SpeechError struct {
	Reason string
	Err    error
}

func (e *SpeechError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech output: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("speech output: %s", e.Reason)
}

func (e *SpeechError) Unwrap() error { return e.Err }
