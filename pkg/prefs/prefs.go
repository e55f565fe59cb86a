// Package prefs remembers user choices between runs: the last model, the
// search toggle and the speech settings. Conversation content is never
// stored here.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/gizchat/pkg/kv"
)

// Prefs are the remembered choices of one profile. Zero values mean "use
// the default".
type Prefs struct {
	Model      string  `json:"model,omitzero" yaml:"model,omitempty" msgpack:"model,omitempty"`
	UseSearch  bool    `json:"use_search,omitzero" yaml:"use_search,omitempty" msgpack:"search,omitempty"`
	AutoSpeak  bool    `json:"auto_speak,omitzero" yaml:"auto_speak,omitempty" msgpack:"speak,omitempty"`
	SpeechRate float64 `json:"speech_rate,omitzero" yaml:"speech_rate,omitempty" msgpack:"rate,omitempty"`
}

// Store loads and saves Prefs for one profile, usually the CLI context.
type Store struct {
	kv      kv.Store
	profile string

	mu sync.Mutex
}

func New(store kv.Store, profile string) *Store {
	if profile == "" {
		profile = "default"
	}
	return &Store{kv: store, profile: profile}
}

func (s *Store) key() kv.Key {
	return kv.Key{"prefs", s.profile}
}

// Load returns the stored prefs, or zero Prefs if none were saved.
func (s *Store) Load(ctx context.Context) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Prefs, error) {
	data, err := s.kv.Get(ctx, s.key())
	if errors.Is(err, kv.ErrNotFound) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, err
	}
	var p Prefs
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("prefs: decode %s: %w", s.profile, err)
	}
	return p, nil
}

// Update applies f to the stored prefs and saves the result.
func (s *Store) Update(ctx context.Context, f func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load(ctx)
	if err != nil {
		return err
	}
	f(&p)
	data, err := msgpack.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(), data)
}

// Reset forgets the prefs of the profile.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, s.key())
}
