package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/kv"
)

// setupTestEnv points HOME at a temp dir, clears provider credentials from
// the environment and shares one memory store across commands.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}
	testKVOverride = kv.NewMemory()
	t.Cleanup(func() {
		testKVOverride = nil
		testRemote = nil
	})
	return home
}

// setupTestRemote is setupTestEnv with a scripted model.
func setupTestRemote(t *testing.T) *scriptRemote {
	t.Helper()
	setupTestEnv(t)
	r := &scriptRemote{}
	testRemote = r
	return r
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	verbose = false
	outputFormat = "yaml"
	jqQuery = ""
	cfgFile = ""
	contextName = ""
	globalConfig = nil

	var outBuf, errBuf bytes.Buffer
	rootCmd.SetOut(&outBuf)
	rootCmd.SetErr(&errBuf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		}
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
			return
		}
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeTestFile writes a file to a temp dir and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// scriptRemote is a model that echoes, unless Reply scripts the events of
// a message.
type scriptRemote struct {
	Reply func(text string) []chat.Event
	Image *chat.Image

	mu      sync.Mutex
	configs []chat.SessionConfig
	sent    []string
	results []string
}

func (r *scriptRemote) NewConversation(_ context.Context, cfg chat.SessionConfig, _ []chat.ToolSpec) (chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	return &scriptConversation{r: r}, nil
}

func (r *scriptRemote) GenerateImage(context.Context, string) (*chat.Image, error) {
	if r.Image == nil {
		return nil, nil
	}
	img := *r.Image
	return &img, nil
}

func (r *scriptRemote) lastConfig() chat.SessionConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return chat.SessionConfig{}
	}
	return r.configs[len(r.configs)-1]
}

func (r *scriptRemote) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type scriptConversation struct {
	r *scriptRemote
}

func (c *scriptConversation) SendStream(_ context.Context, text string, _ []chat.Image) (chat.Stream, error) {
	c.r.mu.Lock()
	c.r.sent = append(c.r.sent, text)
	reply := c.r.Reply
	c.r.mu.Unlock()

	events := []chat.Event{chat.TextDelta("echo: " + text)}
	if reply != nil {
		events = reply(text)
	}
	return &scriptStream{r: c.r, events: events}, nil
}

type scriptStream struct {
	r      *scriptRemote
	events []chat.Event
}

func (s *scriptStream) Next() (chat.Event, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	evt := s.events[0]
	s.events = s.events[1:]
	return evt, nil
}

func (s *scriptStream) Reply(_ *chat.ToolInvocation, result string) error {
	s.r.mu.Lock()
	s.r.results = append(s.r.results, result)
	s.r.mu.Unlock()
	return nil
}

func (s *scriptStream) Close() error { return nil }
