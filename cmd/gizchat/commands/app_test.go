package commands

import (
	"testing"

	"github.com/haivivi/gizchat/pkg/chat"
)

func TestLiveInstruction(t *testing.T) {
	tests := []struct {
		name               string
		system, configured string
		want               string
	}{
		{"preset wins", "be brief", "be kind", "be brief"},
		{"context", "", "be kind", "be kind"},
		{"default", "", "", chat.DefaultSystemInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := liveInstruction(tt.system, tt.configured); got != tt.want {
				t.Errorf("liveInstruction(%q, %q) = %q, want %q", tt.system, tt.configured, got, tt.want)
			}
		})
	}
}
