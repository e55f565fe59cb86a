package chat

import (
	"context"
	"fmt"
	"sync"
)

// Mode is the operating mode of the engine.
type Mode int

const (
	ModeChat Mode = iota
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeChat:
		return "chat"
	case ModeLive:
		return "live"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeController arbitrates between chat and live mode and gates sends.
//
// A send holds the chat mode from BeginSend to EndSend. Live mode is only
// reachable while no send is in flight, and no send starts while live, so
// the two modes are never active together. The live session is entered and
// exited without the lock held; while that transition runs the controller
// rejects sends and further switches.
type ModeController struct {
	live   LiveSession
	speech *SpeechTrigger

	mu        sync.Mutex
	mode      Mode
	sending   bool
	switching bool
}

// NewModeController creates a controller in ModeChat.
func NewModeController(live LiveSession, speech *SpeechTrigger) *ModeController {
	return &ModeController{live: live, speech: speech}
}

// Mode returns the current mode. During a switch it is the mode being left.
func (c *ModeController) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Sending reports whether a send is in flight.
func (c *ModeController) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Switching reports whether the live session is being entered or exited.
func (c *ModeController) Switching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switching
}

// BeginSend marks a send in flight. It fails with ErrBusy when live, while
// switching, or when another send is in flight.
func (c *ModeController) BeginSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeChat || c.sending || c.switching {
		return ErrBusy
	}
	c.sending = true
	return nil
}

// EndSend clears the in-flight mark set by BeginSend.
func (c *ModeController) EndSend() {
	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()
}

// Exclusive runs fn in chat mode with no send in flight, holding the send
// slot while it runs. It fails with ErrBusy otherwise.
func (c *ModeController) Exclusive(fn func()) error {
	if err := c.BeginSend(); err != nil {
		return err
	}
	defer c.EndSend()
	fn()
	return nil
}

// EnterLive switches to live mode. It fails with ErrBusy while a send is in
// flight or a switch is running. Entering while already live is a no-op.
// When the live session fails to start the controller stays in chat mode.
func (c *ModeController) EnterLive(ctx context.Context) error {
	c.mu.Lock()
	if c.mode == ModeLive && !c.switching {
		c.mu.Unlock()
		return nil
	}
	if c.sending || c.switching {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.live == nil {
		c.mu.Unlock()
		return ErrLiveUnavailable
	}
	c.switching = true
	c.mu.Unlock()

	c.speech.Cancel()
	err := c.live.Enter(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.switching = false
	if err != nil {
		return fmt.Errorf("chat: enter live: %w", err)
	}
	c.mode = ModeLive
	return nil
}

// ExitLive returns to chat mode. Exiting while in chat is a no-op; exiting
// while a switch is running fails with ErrBusy. The mode returns to chat
// even if the live session reports an error on exit.
func (c *ModeController) ExitLive(ctx context.Context) error {
	c.mu.Lock()
	if c.switching {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.mode == ModeChat {
		c.mu.Unlock()
		return nil
	}
	c.switching = true
	c.mu.Unlock()

	err := c.live.Exit(ctx)

	c.mu.Lock()
	c.mode = ModeChat
	c.switching = false
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("chat: exit live: %w", err)
	}
	return nil
}
