package chat

import (
	"sync"
)

// Store is the ordered transcript. It is the single owner of every Turn.
//
// Mutations are whole-sequence replacements: Append adds a turn, Update
// replaces the turn with the given id by f(turn). f always receives a clone
// of the latest snapshot at apply time, so queued replacements compose.
//
// Watchers are notified synchronously, in mutation order, with a snapshot of
// the full sequence. A watcher must not mutate the Store.
type Store struct {
	// notifyMu serializes a mutation with its notification.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	turns    []Turn
	watchers map[int]func([]Turn)
	nextID   int
}

func NewStore() *Store {
	return &Store{
		watchers: make(map[int]func([]Turn)),
	}
}

// Append adds a turn at the end of the transcript.
func (s *Store) Append(t Turn) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := make([]Turn, len(s.turns), len(s.turns)+1)
	copy(next, s.turns)
	s.turns = append(next, t.Clone())
	s.mu.Unlock()

	s.notify()
}

// Update replaces the turn with the given id by f applied to a clone of it.
// The id of the returned turn is ignored; ids are immutable. Returns false if
// no turn has the id.
func (s *Store) Update(id string, f func(Turn) Turn) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	updated := f(s.turns[idx].Clone()).Clone()
	updated.ID = id
	next := make([]Turn, len(s.turns))
	copy(next, s.turns)
	next[idx] = updated
	s.turns = next
	s.mu.Unlock()

	s.notify()
	return true
}

// Clear empties the transcript.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()

	s.notify()
}

// Turns returns a snapshot of the transcript.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Get returns a copy of the turn with the given id.
func (s *Store) Get(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Turn{}, false
	}
	return s.turns[idx].Clone(), true
}

// Last returns a copy of the last turn.
func (s *Store) Last() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1].Clone(), true
}

// LastModel returns a copy of the last model turn.
func (s *Store) LastModel() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleModel {
			return s.turns[i].Clone(), true
		}
	}
	return Turn{}, false
}

// Streaming returns the turn that is currently streaming, if any.
func (s *Store) Streaming() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Streaming {
			return s.turns[i].Clone(), true
		}
	}
	return Turn{}, false
}

// Watch registers fn to receive a snapshot after every mutation. The
// returned function unregisters it.
func (s *Store) Watch(fn func([]Turn)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	if len(s.watchers) == 0 {
		s.mu.RUnlock()
		return
	}
	snapshot := s.snapshotLocked()
	fns := make([]func([]Turn), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.turns {
		if s.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []Turn {
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}
