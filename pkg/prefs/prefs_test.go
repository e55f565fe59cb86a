package prefs

import (
	"context"
	"testing"

	"github.com/haivivi/gizchat/pkg/kv"
)

func TestLoadEmpty(t *testing.T) {
	p, err := New(kv.NewMemory(), "").Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p != (Prefs{}) {
		t.Errorf("Load() = %+v, want zero", p)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	work := New(store, "work")
	home := New(store, "home")

	if err := work.Update(ctx, func(p *Prefs) { p.Model = "openai/gpt-4o" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := work.Update(ctx, func(p *Prefs) {
		p.AutoSpeak = true
		p.SpeechRate = 1.25
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := work.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Prefs{Model: "openai/gpt-4o", AutoSpeak: true, SpeechRate: 1.25}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	if p, _ := home.Load(ctx); p != (Prefs{}) {
		t.Errorf("other profile = %+v, want zero", p)
	}

	if err := work.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if p, _ := work.Load(ctx); p != (Prefs{}) {
		t.Errorf("after Reset = %+v, want zero", p)
	}
}

func TestLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	store.Set(ctx, kv.Key{"prefs", "default"}, []byte{0xc1})
	if _, err := New(store, "").Load(ctx); err == nil {
		t.Error("Load of corrupt data should fail")
	}
}
