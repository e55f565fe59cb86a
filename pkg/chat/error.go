package chat

import "errors"

var (
	// ErrBusy is returned when a send or a mode switch is attempted while a
	// stream is open or live mode is active.
	ErrBusy = errors.New("chat: busy")

	// ErrNoSession is returned by a send before any session was started.
	ErrNoSession = errors.New("chat: no active session")

	// ErrLiveUnavailable is returned when entering live mode without a
	// live session collaborator.
	ErrLiveUnavailable = errors.New("chat: live session unavailable")
)
