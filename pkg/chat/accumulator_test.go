package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newStreamingTurn(s *Store) Turn {
	turn := NewTurn(RoleModel, "")
	turn.Streaming = true
	s.Append(turn)
	return turn
}

func TestAccumulator_TextConcatenation(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{"empty", nil},
		{"single", []string{"Hi"}},
		{"two", []string{"Hi", " there"}},
		{"duplicates kept", []string{"a", "a", "a"}},
		{"empty deltas", []string{"", "x", "", "y"}},
		{"unicode", []string{"你", "好", "！", "👋"}},
		{"whitespace", []string{" ", "\n", "\t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			turn := newStreamingTurn(s)
			acc := NewAccumulator(s, turn.ID)
			for _, d := range tt.deltas {
				acc.Apply(TextDelta(d))
			}
			acc.Finish()

			got, _ := s.Get(turn.ID)
			if want := strings.Join(tt.deltas, ""); got.Text != want {
				t.Errorf("Text = %q, want %q", got.Text, want)
			}
			if got.Streaming {
				t.Error("Streaming should be false after Finish")
			}
		})
	}
}

func TestAccumulator_ManyDeltasInOrder(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)

	var want strings.Builder
	for i := range 200 {
		d := fmt.Sprintf("[%d]", i)
		want.WriteString(d)
		acc.Apply(TextDelta(d))
	}
	acc.Finish()

	got, _ := s.Get(turn.ID)
	if got.Text != want.String() {
		t.Errorf("Text mismatch: got %d bytes, want %d bytes", len(got.Text), want.Len())
	}
	if acc.Applied() != 200 {
		t.Errorf("Applied = %d, want 200", acc.Applied())
	}
}

func TestAccumulator_GroundingAcrossToolCall(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)
	d := &Dispatcher{Store: s}

	acc.Apply(GroundingDelta{{SourceURI: "https://a", SourceTitle: "A"}})
	acc.Apply(TextDelta("one "))
	d.Dispatch(t.Context(), turn.ID, &ToolInvocation{Name: string(ToolPlayMusic), Args: map[string]any{"song": "S"}})
	acc.Apply(GroundingDelta{{SourceURI: "https://b"}, {SourceURI: "https://c"}})
	acc.Apply(TextDelta("two"))
	acc.Finish()

	got, _ := s.Get(turn.ID)
	if got.Text != "one two" {
		t.Errorf("Text = %q, want %q", got.Text, "one two")
	}
	var uris []string
	for _, g := range got.Grounding {
		uris = append(uris, g.SourceURI)
	}
	if want := "https://a,https://b,https://c"; strings.Join(uris, ",") != want {
		t.Errorf("grounding = %v, want %s", uris, want)
	}
	if got.Music == nil || got.Music.Title != "S" {
		t.Errorf("Music = %+v, want title S", got.Music)
	}
}

func TestAccumulator_FailWithoutText(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)
	acc.Fail(errors.New("timeout"))
	acc.Finish()

	got, _ := s.Get(turn.ID)
	if want := fmt.Sprintf(ErrorTextFormat, "timeout"); got.Text != want {
		t.Errorf("Text = %q, want %q", got.Text, want)
	}
	if got.Streaming {
		t.Error("Streaming should be false")
	}
}

func TestAccumulator_FailKeepsPartialText(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)
	acc.Apply(TextDelta("partial"))
	acc.Fail(errors.New("reset by peer"))
	acc.Finish()

	got, _ := s.Get(turn.ID)
	if !strings.HasPrefix(got.Text, "partial") {
		t.Errorf("partial text lost: %q", got.Text)
	}
	if !strings.Contains(got.Text, "reset by peer") {
		t.Errorf("error missing: %q", got.Text)
	}
}

func TestAccumulator_FinishIsFinal(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)
	acc.Apply(TextDelta("a"))
	acc.Finish()
	acc.Finish()
	acc.Apply(TextDelta("late"))
	acc.Fail(errors.New("late"))

	if !acc.Finished() {
		t.Error("Finished should be true")
	}
	got, _ := s.Get(turn.ID)
	if got.Text != "a" {
		t.Errorf("Text = %q, want %q", got.Text, "a")
	}
}

func TestAccumulator_MissingTurn(t *testing.T) {
	s := NewStore()
	turn := newStreamingTurn(s)
	acc := NewAccumulator(s, turn.ID)
	s.Clear()

	// Applying to a cleared turn must not resurrect it.
	acc.Apply(TextDelta("x"))
	acc.Finish()
	if n := s.Len(); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}
