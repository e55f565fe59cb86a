package chat

import (
	"fmt"
	"log/slog"
	"sync"
)

// ErrorTextFormat formats a transport failure into user-visible turn text.
// A turn with no streamed text is replaced by the formatted error; a turn
// with partial text keeps it and gets the error as a following paragraph.
const ErrorTextFormat = "Sorry, something went wrong: %v"

// Accumulator merges the events of one stream into one model turn held by a
// Store. Every change is a whole-turn replacement through Store.Update.
type Accumulator struct {
	store *Store
	id    string

	mu       sync.Mutex
	finished bool
	applied  int
}

// NewAccumulator binds an accumulator to the turn with the given id.
func NewAccumulator(store *Store, id string) *Accumulator {
	return &Accumulator{store: store, id: id}
}

// ID returns the id of the turn being accumulated.
func (a *Accumulator) ID() string {
	return a.id
}

// Apply merges a TextDelta or GroundingDelta into the turn. Other events are
// ignored; the caller routes tool invocations and handles End.
func (a *Accumulator) Apply(evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		slog.Warn("chat/accumulator: event after finish", "id", a.id, "event", fmt.Sprintf("%T", evt))
		return
	}
	switch e := evt.(type) {
	case TextDelta:
		if e == "" {
			return
		}
		a.store.Update(a.id, func(t Turn) Turn {
			t.Text += string(e)
			return t
		})
	case GroundingDelta:
		if len(e) == 0 {
			return
		}
		a.store.Update(a.id, func(t Turn) Turn {
			t.Grounding = append(t.Grounding, e...)
			return t
		})
	default:
		return
	}
	a.applied++
}

// Fail records a failure on the turn. Without any streamed text the turn
// text becomes the formatted error; otherwise the partial text is kept and
// the error is appended as a new paragraph.
func (a *Accumulator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	msg := fmt.Sprintf(ErrorTextFormat, err)
	a.store.Update(a.id, func(t Turn) Turn {
		if t.Text == "" {
			t.Text = msg
		} else {
			t.Text += "\n\n" + msg
		}
		return t
	})
}

// Finish clears the streaming flag. It runs after every other mutation of
// this accumulator and only once.
func (a *Accumulator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.finished = true
	a.store.Update(a.id, func(t Turn) Turn {
		t.Streaming = false
		return t
	})
}

// Applied returns the number of deltas merged so far.
func (a *Accumulator) Applied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Finished reports whether Finish has been called.
func (a *Accumulator) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}
