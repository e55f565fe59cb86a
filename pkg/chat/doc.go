// Package chat implements the conversation orchestration engine.
//
// # Core Types
//
// Turn is one entry of the transcript, authored by the user or the model.
// The Store owns every Turn; other components request mutations by id and
// never keep their own copy past an update.
//
// A send runs through the following components:
//
//	Engine.SendMessage
//	    -> Store.Append(user turn), Store.Append(model placeholder)
//	    -> Conversation.SendStream
//	    -> Accumulator.Apply (TextDelta, GroundingDelta)
//	    -> Dispatcher.Dispatch (*ToolInvocation) -> Stream.Reply
//	    -> Accumulator.Finish -> SpeechTrigger.Schedule
//
// # Modes
//
// The Engine is either in ModeChat or ModeLive. While live, sends are
// rejected with ErrBusy and the LiveSession collaborator owns the audio
// channel. Live mode can only be entered from an idle chat.
//
// # Session Config
//
// SessionConfig is replaced wholesale. Changing the model or toggling search
// discards the remote conversation and clears the Store, since remote context
// is bound to the config it was created with.
package chat
