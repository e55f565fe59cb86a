package cli

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfigWithPath("testapp", filepath.Join(t.TempDir(), "sub", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	return cfg
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"sk-1234567890abcdef", "sk-1***********cdef"},
		{"$GEMINI_API_KEY", "$GEMINI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := MaskAPIKey(tt.key)
			if got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestSecret(t *testing.T) {
	t.Setenv("GIZCHAT_TEST_KEY", "from-env")
	tests := []struct {
		in   string
		want string
	}{
		{"literal", "literal"},
		{"$GIZCHAT_TEST_KEY", "from-env"},
		{"$GIZCHAT_UNSET_KEY", ""},
		{"$", "$"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Secret(tt.in); got != tt.want {
			t.Errorf("Secret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigWithPath_NewConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := LoadConfigWithPath("testapp", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	if cfg.AppName != "testapp" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "testapp")
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("Contexts = %v, want empty", cfg.Contexts)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("loading must not create the config file")
	}
	if cfg.Path() != path || cfg.Dir() != filepath.Dir(path) {
		t.Errorf("Path/Dir = %q/%q", cfg.Path(), cfg.Dir())
	}
}

func TestConfig_AddContext(t *testing.T) {
	cfg := newTestConfig(t)
	if err := cfg.AddContext("dev", &Context{Model: "gemini-2.5-pro"}); err != nil {
		t.Fatalf("AddContext error: %v", err)
	}
	if cfg.CurrentContext != "dev" {
		t.Errorf("first context should become current, got %q", cfg.CurrentContext)
	}
	if err := cfg.AddContext("prod", &Context{}); err != nil {
		t.Fatalf("AddContext error: %v", err)
	}
	if cfg.CurrentContext != "dev" {
		t.Errorf("CurrentContext = %q, want dev", cfg.CurrentContext)
	}
	if cfg.Contexts["dev"].Name != "dev" {
		t.Errorf("Name = %q, want dev", cfg.Contexts["dev"].Name)
	}
	if err := cfg.AddContext("", &Context{}); err == nil {
		t.Error("AddContext should reject an empty name")
	}
}

func TestConfig_DeleteContext(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AddContext("ctx1", &Context{})
	cfg.AddContext("ctx2", &Context{})
	cfg.UseContext("ctx1")

	if err := cfg.DeleteContext("ctx2"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if _, ok := cfg.Contexts["ctx2"]; ok {
		t.Error("Context should be deleted")
	}
	if err := cfg.DeleteContext("ctx1"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext should be cleared, got %q", cfg.CurrentContext)
	}
	if err := cfg.DeleteContext("nonexistent"); err == nil {
		t.Error("DeleteContext should fail for non-existent context")
	}
}

func TestConfig_ResolveContext(t *testing.T) {
	cfg := newTestConfig(t)
	if _, err := cfg.ResolveContext(""); err == nil {
		t.Error("ResolveContext should fail without a current context")
	}
	cfg.AddContext("a", &Context{Model: "m-a"})
	cfg.AddContext("b", &Context{Model: "m-b"})

	ctx, err := cfg.ResolveContext("")
	if err != nil || ctx.Model != "m-a" {
		t.Errorf("ResolveContext(\"\") = %+v, %v", ctx, err)
	}
	ctx, err = cfg.ResolveContext("b")
	if err != nil || ctx.Model != "m-b" {
		t.Errorf("ResolveContext(b) = %+v, %v", ctx, err)
	}
	if _, err := cfg.ResolveContext("c"); err == nil {
		t.Error("ResolveContext should fail for unknown context")
	}
	if err := cfg.UseContext("c"); err == nil {
		t.Error("UseContext should fail for unknown context")
	}
}

func TestConfig_ListContexts(t *testing.T) {
	cfg := newTestConfig(t)
	for _, name := range []string{"staging", "dev", "prod"} {
		cfg.AddContext(name, &Context{})
	}
	want := []string{"dev", "prod", "staging"}
	if got := cfg.ListContexts(); !slices.Equal(got, want) {
		t.Errorf("ListContexts() = %v, want %v", got, want)
	}
}

func TestConfig_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfigWithPath("testapp", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath error: %v", err)
	}
	ctx := &Context{}
	for key, value := range map[string]string{
		"gemini.api_key":      "$GEMINI_API_KEY",
		"openai.base_url":     "http://localhost:11434/v1",
		"model":               "openai/llama3",
		"gallery.bucket":      "images",
		"audio.player":        "aplay -q",
		"audio.player_rate":   "48000",
		"audio.player_stereo": "true",
	} {
		if err := ctx.Set(key, value); err != nil {
			t.Fatalf("Set(%s) error: %v", key, err)
		}
	}
	if err := cfg.AddContext("dev", ctx); err != nil {
		t.Fatalf("AddContext error: %v", err)
	}

	loaded, err := LoadConfigWithPath("testapp", path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	got, err := loaded.GetCurrentContext()
	if err != nil {
		t.Fatalf("GetCurrentContext error: %v", err)
	}
	if got.Name != "dev" || got.Model != "openai/llama3" {
		t.Errorf("context = %+v", got)
	}
	if got.Gemini == nil || got.Gemini.APIKey != "$GEMINI_API_KEY" {
		t.Errorf("Gemini = %+v", got.Gemini)
	}
	if got.OpenAI == nil || got.OpenAI.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("OpenAI = %+v", got.OpenAI)
	}
	if got.Gallery == nil || got.Gallery.Bucket != "images" {
		t.Errorf("Gallery = %+v", got.Gallery)
	}
	if a := got.Audio; a == nil || a.Player != "aplay -q" || a.PlayerRate != 48000 || !a.PlayerStereo {
		t.Errorf("Audio = %+v", got.Audio)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 600", perm)
	}
}

func TestContext_Set(t *testing.T) {
	ctx := &Context{}
	if err := ctx.Set("timeout", "30"); err != nil || ctx.Timeout != 30 {
		t.Errorf("timeout = %d, %v", ctx.Timeout, err)
	}
	if err := ctx.Set("timeout", ""); err != nil || ctx.Timeout != 0 {
		t.Errorf("cleared timeout = %d, %v", ctx.Timeout, err)
	}

	bad := []struct{ key, value string }{
		{"timeout", "soon"},
		{"timeout", "-1"},
		{"gemini.backend", "azure"},
		{"audio.player_stereo", "maybe"},
		{"gemini.region", "x"},
		{"unknown", "x"},
		{"voice.player", "x"},
	}
	for _, tt := range bad {
		if err := ctx.Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%q, %q) should fail", tt.key, tt.value)
		}
	}
}

func TestKeysAreSettable(t *testing.T) {
	for _, key := range Keys() {
		ctx := &Context{}
		value := "x"
		switch {
		case strings.HasSuffix(key, "_rate"), key == "timeout":
			value = "1"
		case strings.HasSuffix(key, "_stereo"):
			value = "false"
		case key == "gemini.backend":
			value = "vertex"
		}
		if err := ctx.Set(key, value); err != nil {
			t.Errorf("Set(%q) error: %v", key, err)
		}
	}
}

func TestContext_Masked(t *testing.T) {
	ctx := &Context{
		Gemini: &GeminiConfig{APIKey: "AIzaSy0123456789abcd"},
		OpenAI: &OpenAIConfig{APIKey: "$OPENAI_API_KEY"},
	}
	m := ctx.Masked()
	if m.Gemini.APIKey == ctx.Gemini.APIKey || !strings.HasPrefix(m.Gemini.APIKey, "AIza") {
		t.Errorf("masked gemini key = %q", m.Gemini.APIKey)
	}
	if m.OpenAI.APIKey != "$OPENAI_API_KEY" {
		t.Errorf("masked openai key = %q", m.OpenAI.APIKey)
	}
	if ctx.Gemini.APIKey != "AIzaSy0123456789abcd" {
		t.Error("Masked must not modify the original")
	}
}
