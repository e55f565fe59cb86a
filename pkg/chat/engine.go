package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Options are the collaborators of an Engine. Only Remote is required for
// chatting; a missing collaborator disables the matching feature.
type Options struct {
	Remote   Remote
	Images   ImageGenerator
	Archiver ImageArchiver
	Opener   LinkOpener
	Speaker  Speaker
	Live     LiveSession

	// SpeechDelay is the pause before a finished reply is spoken.
	// Zero means DefaultSpeechDelay.
	SpeechDelay time.Duration

	// AutoSpeak speaks every finished reply.
	AutoSpeak bool
}

// Engine is the conversation orchestration engine. It owns the Store and
// the active Session, runs sends one at a time, and switches between chat
// and live mode.
type Engine struct {
	store      *Store
	sessions   *SessionManager
	dispatcher *Dispatcher
	speech     *SpeechTrigger
	mode       *ModeController

	mu        sync.Mutex
	autoSpeak bool
}

// New creates an engine without an active session; call Start before
// sending.
func New(opts Options) *Engine {
	store := NewStore()
	delay := opts.SpeechDelay
	if delay == 0 {
		delay = DefaultSpeechDelay
	}
	speech := NewSpeechTrigger(opts.Speaker, delay)
	return &Engine{
		store:    store,
		sessions: NewSessionManager(opts.Remote, Tools()),
		dispatcher: &Dispatcher{
			Store:    store,
			Opener:   opts.Opener,
			Images:   opts.Images,
			Archiver: opts.Archiver,
		},
		speech:    speech,
		mode:      NewModeController(opts.Live, speech),
		autoSpeak: opts.AutoSpeak,
	}
}

// Start begins a session with cfg and clears the transcript.
func (e *Engine) Start(cfg SessionConfig) {
	e.reset(cfg)
}

// SendMessage appends a user turn and streams the model reply into a new
// model turn. Transport failures are recorded on the model turn and are not
// returned. It returns ErrNoSession before Start and ErrBusy while another
// send is in flight or live mode is active. Empty submissions are ignored.
func (e *Engine) SendMessage(ctx context.Context, text string, images []Image) error {
	if e.sessions.Current() == nil {
		return ErrNoSession
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return nil
	}
	if err := e.mode.BeginSend(); err != nil {
		return err
	}
	defer e.mode.EndSend()
	// resets hold the send slot, so the session is stable from here
	sess := e.sessions.Current()

	e.speech.Cancel()

	e.store.Append(NewTurn(RoleUser, text, images...))
	placeholder := NewTurn(RoleModel, "")
	placeholder.Streaming = true
	e.store.Append(placeholder)

	if !e.run(ctx, sess, placeholder.ID, text, images) {
		return nil
	}
	if e.AutoSpeak() {
		if t, ok := e.store.Get(placeholder.ID); ok {
			e.speech.Schedule(t.Text)
		}
	}
	return nil
}

// run streams the reply into the turn with the given id and reports whether
// the stream completed without error. The turn stops streaming on return.
func (e *Engine) run(ctx context.Context, sess *Session, id, text string, images []Image) bool {
	acc := NewAccumulator(e.store, id)
	defer acc.Finish()

	if err := e.pump(ctx, sess, acc, text, images); err != nil {
		slog.Warn("chat/engine: send failed", "model", sess.Config().Model, "turn", id, "error", err)
		acc.Fail(err)
		return false
	}
	slog.Debug("chat/engine: send done", "model", sess.Config().Model, "turn", id, "deltas", acc.Applied())
	return true
}

func (e *Engine) pump(ctx context.Context, sess *Session, acc *Accumulator, text string, images []Image) error {
	conv, err := sess.Conversation(ctx)
	if err != nil {
		return err
	}
	stream, err := conv.SendStream(ctx, text, images)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		evt, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch evt := evt.(type) {
		case End:
			return nil
		case *ToolInvocation:
			result := e.dispatcher.Dispatch(ctx, acc.ID(), evt)
			if err := stream.Reply(evt, result); err != nil {
				return err
			}
		default:
			acc.Apply(evt)
		}
	}
}

// NewChat starts a new remote conversation with the current config and
// clears the transcript. It fails with ErrBusy while a send is in flight or
// live mode is active.
func (e *Engine) NewChat() error {
	return e.mode.Exclusive(func() {
		e.reset(e.Config())
	})
}

// ChangeModel switches to the given model. The remote conversation is
// discarded and the transcript cleared unless the model is unchanged. It
// fails with ErrBusy while a send is in flight or live mode is active.
func (e *Engine) ChangeModel(model string) error {
	return e.mode.Exclusive(func() {
		cfg := e.Config()
		if cfg.Model == model {
			return
		}
		cfg.Model = model
		e.reset(cfg)
	})
}

// ToggleSearch enables or disables search grounding. The remote conversation
// is discarded and the transcript cleared unless the flag is unchanged. It
// fails with ErrBusy while a send is in flight or live mode is active.
func (e *Engine) ToggleSearch(on bool) error {
	return e.mode.Exclusive(func() {
		cfg := e.Config()
		if cfg.UseSearch == on {
			return
		}
		cfg.UseSearch = on
		e.reset(cfg)
	})
}

func (e *Engine) reset(cfg SessionConfig) {
	e.speech.Cancel()
	s := e.sessions.Reset(cfg)
	e.store.Clear()
	slog.Info("chat/engine: session reset", "model", s.Config().Model, "search", s.Config().UseSearch)
}

// EnterLive switches to live mode. It fails with ErrBusy while a send is in
// flight.
func (e *Engine) EnterLive(ctx context.Context) error {
	return e.mode.EnterLive(ctx)
}

// ExitLive returns to chat mode with the transcript and config untouched.
func (e *Engine) ExitLive(ctx context.Context) error {
	return e.mode.ExitLive(ctx)
}

// Config returns the active session config. Before Start it returns the
// defaults.
func (e *Engine) Config() SessionConfig {
	if s := e.sessions.Current(); s != nil {
		return s.Config()
	}
	return SessionConfig{}.normalized()
}

// Turns returns a snapshot of the transcript.
func (e *Engine) Turns() []Turn {
	return e.store.Turns()
}

// Watch registers fn to receive a transcript snapshot after every change.
func (e *Engine) Watch(fn func([]Turn)) (cancel func()) {
	return e.store.Watch(fn)
}

// Loading reports whether a send is in flight.
func (e *Engine) Loading() bool {
	return e.mode.Sending()
}

// Streaming reports whether a model turn is streaming.
func (e *Engine) Streaming() bool {
	_, ok := e.store.Streaming()
	return ok
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	return e.mode.Mode()
}

// Dispatch runs a tool invocation outside a send, e.g. from a live session.
// It targets the last model turn.
func (e *Engine) Dispatch(ctx context.Context, inv *ToolInvocation) string {
	return e.dispatcher.Dispatch(ctx, "", inv)
}

// AutoSpeak reports whether finished replies are spoken.
func (e *Engine) AutoSpeak() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoSpeak
}

// SetAutoSpeak turns speaking of finished replies on or off. Turning it off
// stops any playback.
func (e *Engine) SetAutoSpeak(on bool) {
	e.mu.Lock()
	e.autoSpeak = on
	e.mu.Unlock()
	if !on {
		e.speech.Cancel()
	}
}

// SetSpeechRate sets the rate of future utterances.
func (e *Engine) SetSpeechRate(rate float64) {
	e.speech.SetRate(rate)
}

// SpeechRate returns the rate of future utterances.
func (e *Engine) SpeechRate() float64 {
	return e.speech.Rate()
}

// StopSpeaking cancels pending and playing speech.
func (e *Engine) StopSpeaking() {
	e.speech.Cancel()
}
