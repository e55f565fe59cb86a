package chat

import (
	"context"
)

// Remote is the generative-language service.
type Remote interface {
	// NewConversation starts a fresh remote context bound to cfg. The tools
	// are advertised to the model.
	NewConversation(ctx context.Context, cfg SessionConfig, tools []ToolSpec) (Conversation, error)
}

// Conversation is a remote context that accumulates history across sends.
type Conversation interface {
	// SendStream sends one user message and returns the response stream.
	SendStream(ctx context.Context, text string, images []Image) (Stream, error)
}

// Stream is the ordered sequence of events of one response.
//
// Next returns io.EOF once the stream is exhausted. After Next returns a
// *ToolInvocation the caller must Reply to it before calling Next again.
type Stream interface {
	Next() (Event, error)
	Reply(inv *ToolInvocation, result string) error
	Close() error
}

// ImageGenerator produces an image for a prompt. A nil image with a nil
// error means the service returned nothing.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
}

// ImageArchiver stores a generated image and returns it with Path set.
type ImageArchiver interface {
	Archive(ctx context.Context, turnID string, img Image) (Image, error)
}

// Speaker converts text to audio. Speak is fire-and-forget and Stop is an
// idempotent cancellation of any playback in progress.
type Speaker interface {
	Speak(text string, rate float64)
	Stop()
}

// LiveSession is the real-time voice mode. The engine only signals entry
// and exit.
type LiveSession interface {
	Enter(ctx context.Context) error
	Exit(ctx context.Context) error
}

// LinkOpener opens an external URL. Its result is ignored.
type LinkOpener interface {
	Open(url string) error
}
