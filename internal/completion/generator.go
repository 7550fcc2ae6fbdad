package completion

import "context"

// FallbackReply is spoken when the upstream produced no candidate text.
// The pipeline must always have something to say.
const FallbackReply = "I couldn't generate a response."

// Request describes one prompt for the completion API.
type Request struct {
	Prompt   string
	Language string
}

// Generator is the black-box completion capability: a prompt in, a short
// text reply out.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
}
