package protocol

import "time"

// Message type tags used on the transcription worker boundary. They appear
// in the Type field of every message crossing the bus.
const (
	TypeInit       = "init"
	TypeTranscribe = "transcribe"
	TypeReady      = "ready"
	TypeLoading    = "loading"
	TypeTranscript = "transcript"
	TypeError      = "error"
)

// InitRequest asks the worker to load its transcription capability. The
// operation is idempotent: a worker that is already initialized replies
// ready immediately.
type InitRequest struct {
	Type string `json:"type"`
}

// TranscribeRequest carries one recorded sample buffer to the worker.
// AudioData is mono float32 PCM at the configured sample rate.
type TranscribeRequest struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	AudioData []float32 `json:"audio_data"`
}

// WorkerReply is the single reply produced for every inbound request.
// Exactly one of the ready/transcript/error shapes is populated, selected
// by Type.
type WorkerReply struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WorkerStatus is broadcast on the status subject while the worker loads
// its model and when it becomes ready or fails.
type WorkerStatus struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscribeInit    = "voice.transcribe.init"
	SubjectTranscribeRequest = "voice.transcribe.request"
	SubjectTranscribeStatus  = "voice.transcribe.status"
)
