// Package genx connects the chat engine to remote generative models.
//
// # Backends
//
// GeminiRemote and OpenAIRemote implement chat.Remote and
// chat.ImageGenerator. A conversation keeps its own history; every
// SendStream returns a chat.Stream yielding text and grounding deltas and
// tool invocations. A tool invocation must be answered with Reply before
// the stream continues; the replies of one model step are sent back in a
// single follow-up request.
//
// Mux routes by model id. An id of the form "provider/model" selects the
// backend registered under provider; a bare id goes to the default backend:
//
//	mux := genx.NewMux()
//	mux.Handle("gemini", gemini)
//	mux.Handle("openai", oai)
//	conv, err := mux.NewConversation(ctx, chat.SessionConfig{Model: "openai/gpt-4o"}, chat.Tools())
//
// # Speech and live audio
//
// GeminiSpeaker renders replies with a Gemini TTS model and writes PCM to a
// sink. GeminiLive implements chat.LiveSession over the Gemini Live API and
// hands tool calls back to the engine.
//
// # Errors
//
// Terminal generation outcomes are reported as *State errors carrying the
// Usage and a Status (Done, Truncated, Blocked, Error).
package genx
