package genx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/haivivi/gizchat/pkg/chat"
)

type fakeLiveConn struct {
	msgs      chan *genai.LiveServerMessage
	toolResps chan genai.LiveToolResponseInput
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	inputs []genai.LiveRealtimeInput
}

func newFakeLiveConn() *fakeLiveConn {
	return &fakeLiveConn{
		msgs:      make(chan *genai.LiveServerMessage),
		toolResps: make(chan genai.LiveToolResponseInput, 1),
		closed:    make(chan struct{}),
	}
}

func (c *fakeLiveConn) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return nil
}

func (c *fakeLiveConn) SendToolResponse(in genai.LiveToolResponseInput) error {
	c.toolResps <- in
	return nil
}

func (c *fakeLiveConn) Receive() (*genai.LiveServerMessage, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeLiveConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeLiveConn) snapshot() []genai.LiveRealtimeInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]genai.LiveRealtimeInput(nil), c.inputs...)
}

func (c *fakeLiveConn) push(t *testing.T, m *genai.LiveServerMessage) {
	t.Helper()
	select {
	case c.msgs <- m:
	case <-time.After(time.Second):
		t.Fatal("live session is not receiving")
	}
}

type transcriptLine struct {
	role chat.Role
	text string
}

func TestGeminiLive_Session(t *testing.T) {
	conn := newFakeLiveConn()
	out := &memSink{}
	var (
		mu          sync.Mutex
		transcripts []transcriptLine
		dispatched  []*chat.ToolInvocation
	)
	live := &GeminiLive{
		Mic: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(make([]byte, liveInputChunk+800))), nil
		},
		Speaker: func() (io.WriteCloser, error) { return out, nil },
		Transcript: func(role chat.Role, text string) {
			mu.Lock()
			transcripts = append(transcripts, transcriptLine{role, text})
			mu.Unlock()
		},
		Dispatch: func(_ context.Context, inv *chat.ToolInvocation) string {
			mu.Lock()
			dispatched = append(dispatched, inv)
			mu.Unlock()
			return "Now playing"
		},
		connect: func(context.Context) (liveConn, error) { return conn, nil },
	}

	if err := live.Enter(context.Background()); err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	if !live.Active() {
		t.Error("Active() = false after Enter")
	}
	if err := live.Enter(context.Background()); err != nil {
		t.Errorf("second Enter error: %v", err)
	}

	conn.push(t, &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "play yesterday"},
	}})
	conn.push(t, &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{ID: "f1", Name: "play_music", Args: map[string]any{"song": "Yesterday"}}},
	}})
	select {
	case resp := <-conn.toolResps:
		if len(resp.FunctionResponses) != 1 {
			t.Fatalf("FunctionResponses = %d, want 1", len(resp.FunctionResponses))
		}
		fr := resp.FunctionResponses[0]
		if fr.ID != "f1" || fr.Name != "play_music" || fr.Response["output"] != "Now playing" {
			t.Errorf("function response = %+v", fr)
		}
	case <-time.After(time.Second):
		t.Fatal("no tool response")
	}
	conn.push(t, &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte("pcm")}},
		}},
		OutputTranscription: &genai.Transcription{Text: "Playing it now."},
	}})
	// An empty message makes sure the previous one has been handled.
	conn.push(t, &genai.LiveServerMessage{})
	deadline := time.Now().Add(time.Second)
	for len(conn.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := live.Exit(context.Background()); err != nil {
		t.Fatalf("Exit error: %v", err)
	}
	if live.Active() {
		t.Error("Active() = true after Exit")
	}
	if err := live.Exit(context.Background()); err != nil {
		t.Errorf("second Exit error: %v", err)
	}

	if got, closed := out.snapshot(); got != "pcm" || !closed {
		t.Errorf("speaker = %q closed=%v, want %q closed", got, closed, "pcm")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []transcriptLine{{chat.RoleUser, "play yesterday"}, {chat.RoleModel, "Playing it now."}}
	if len(transcripts) != len(want) {
		t.Fatalf("transcripts = %v, want %v", transcripts, want)
	}
	for i := range want {
		if transcripts[i] != want[i] {
			t.Errorf("transcripts[%d] = %v, want %v", i, transcripts[i], want[i])
		}
	}
	if len(dispatched) != 1 || dispatched[0].Args["song"] != "Yesterday" {
		t.Errorf("dispatched = %v", dispatched)
	}

	inputs := conn.snapshot()
	if len(inputs) != 3 {
		t.Fatalf("realtime inputs = %d, want 3", len(inputs))
	}
	if len(inputs[0].Audio.Data) != liveInputChunk || len(inputs[1].Audio.Data) != 800 {
		t.Errorf("audio chunks = %d, %d", len(inputs[0].Audio.Data), len(inputs[1].Audio.Data))
	}
	if !inputs[2].AudioStreamEnd {
		t.Error("last input should end the audio stream")
	}
}

func TestGeminiLive_ConnectError(t *testing.T) {
	live := &GeminiLive{
		connect: func(context.Context) (liveConn, error) { return nil, errors.New("refused") },
	}
	if err := live.Enter(context.Background()); err == nil {
		t.Fatal("Enter should fail")
	}
	if live.Active() {
		t.Error("Active() = true after failed Enter")
	}

	if err := (&GeminiLive{}).Enter(context.Background()); err == nil {
		t.Error("Enter without client should fail")
	}
}

func TestGeminiLive_SpeakerError(t *testing.T) {
	conn := newFakeLiveConn()
	live := &GeminiLive{
		Speaker: func() (io.WriteCloser, error) { return nil, errors.New("busy device") },
		connect: func(context.Context) (liveConn, error) { return conn, nil },
	}
	if err := live.Enter(context.Background()); err == nil {
		t.Fatal("Enter should fail")
	}
	select {
	case <-conn.closed:
	default:
		t.Error("connection not closed after failed Enter")
	}
}
