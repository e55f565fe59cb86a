package genx

import (
	"errors"
	"fmt"
)

// Blocked reports a reply stopped by a safety or content filter.
func Blocked(stats Usage, refusal string) *State {
	return &State{
		usage:  stats,
		status: StatusBlocked,
		err:    fmt.Errorf("genx: generate blocked: %s", refusal),
	}
}

// Error reports a reply aborted by a remote or transport failure.
func Error(stats Usage, err error) *State {
	return &State{
		usage:  stats,
		status: StatusError,
		err:    fmt.Errorf("genx: generate error: %w", err),
	}
}

// State is the terminal error of a stream. It carries the token usage
// consumed before the stream stopped.
type State struct {
	usage  Usage
	status Status
	err    error
}

func (ss State) Usage() Usage {
	return ss.usage
}

func (ss State) Status() Status {
	return ss.status
}

func (ss State) Unwrap() error {
	return ss.err
}

func (ss State) Error() string {
	switch ss.status {
	case StatusBlocked, StatusError:
		return ss.err.Error()
	default:
		return fmt.Sprintf("genx: unexpected stream status: %v", ss.status)
	}
}

// StatusOf returns the status carried by err: StatusOK for nil and
// StatusError for errors that are not a *State.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var st *State
	if errors.As(err, &st) {
		return st.status
	}
	return StatusError
}
