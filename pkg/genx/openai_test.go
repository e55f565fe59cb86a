package genx

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/haivivi/gizchat/pkg/chat"
)

// chunkDecoder replays raw chat completion chunks.
type chunkDecoder struct {
	data   []string
	i      int
	err    error
	closed bool
}

func (d *chunkDecoder) Next() bool {
	if d.i >= len(d.data) {
		return false
	}
	d.i++
	return true
}

func (d *chunkDecoder) Event() ssestream.Event {
	return ssestream.Event{Data: []byte(d.data[d.i-1])}
}

func (d *chunkDecoder) Close() error {
	d.closed = true
	return nil
}

func (d *chunkDecoder) Err() error {
	return d.err
}

// scriptedCompletions answers each request with the next decoder and
// records the request params.
type scriptedCompletions struct {
	mu       sync.Mutex
	decoders []*chunkDecoder
	requests []openai.ChatCompletionNewParams
}

func (c *scriptedCompletions) open(_ context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.requests)
	c.requests = append(c.requests, params)
	if n >= len(c.decoders) {
		return ssestream.NewStream[openai.ChatCompletionChunk](nil, errors.New("no more responses"))
	}
	return ssestream.NewStream[openai.ChatCompletionChunk](c.decoders[n], nil)
}

func newScriptedConversation(r *OpenAIRemote, cfg chat.SessionConfig, decoders ...*chunkDecoder) (*oaiConversation, *scriptedCompletions) {
	sc := &scriptedCompletions{decoders: decoders}
	conv := r.newConversation(cfg, chat.Tools())
	conv.open = sc.open
	return conv, sc
}

func TestOpenAIStream_Text(t *testing.T) {
	dec := &chunkDecoder{data: []string{
		`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		`{"id":"1","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
		`[DONE]`,
	}}
	conv, sc := newScriptedConversation(&OpenAIRemote{}, chat.SessionConfig{Model: "gpt-4o", SystemInstruction: "be nice"}, dec)

	s, err := conv.SendStream(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("SendStream error: %v", err)
	}
	evts, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}
	if len(evts) != 3 || evts[0] != chat.TextDelta("Hi") || evts[1] != chat.TextDelta(" there") {
		t.Errorf("events = %v", evts)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Next() after End error = %v, want io.EOF", err)
	}
	if !dec.closed {
		t.Error("decoder not closed")
	}
	if got := s.(*oaiStream).usage.GeneratedTokenCount; got != 2 {
		t.Errorf("usage.GeneratedTokenCount = %d, want 2", got)
	}

	req := sc.requests[0]
	if req.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].OfDeveloper == nil {
		t.Fatalf("Messages = %+v, want developer prompt and user message", req.Messages)
	}
	if len(req.Tools) != 4 {
		t.Errorf("len(Tools) = %d, want 4", len(req.Tools))
	}
	if !req.StreamOptions.IncludeUsage.Value {
		t.Error("IncludeUsage not set")
	}

	// The reply is kept in the conversation history.
	if len(conv.history) != 3 || conv.history[2].OfAssistant == nil {
		t.Fatalf("history = %+v, want assistant reply last", conv.history)
	}
	if got := conv.history[2].OfAssistant.Content.OfString.Value; got != "Hi there" {
		t.Errorf("recorded reply = %q, want %q", got, "Hi there")
	}
}

func TestOpenAIStream_ToolRoundTrip(t *testing.T) {
	step1 := &chunkDecoder{data: []string{
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"open_google_search","arguments":""}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"golang\"}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"open_reach_security","arguments":"{}"}}]}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}}
	step2 := &chunkDecoder{data: []string{
		`{"id":"2","choices":[{"index":0,"delta":{"content":"Both opened."},"finish_reason":"stop"}]}`,
	}}
	conv, sc := newScriptedConversation(&OpenAIRemote{}, chat.SessionConfig{Model: "gpt-4o"}, step1, step2)

	s, err := conv.SendStream(context.Background(), "search golang and open reach", nil)
	if err != nil {
		t.Fatalf("SendStream error: %v", err)
	}
	first, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}
	search := first[0].(*chat.ToolInvocation)
	if search.ID != "call_a" || search.Name != "open_google_search" || search.Args["query"] != "golang" {
		t.Errorf("first invocation = %+v", search)
	}
	second, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}
	reach := second[0].(*chat.ToolInvocation)
	if reach.ID != "call_b" || reach.Name != "open_reach_security" {
		t.Errorf("second invocation = %+v", reach)
	}

	s.Reply(search, "searched")
	if _, err := s.Next(); err == nil || !strings.Contains(err.Error(), "not answered") {
		t.Errorf("Next() with a pending call error = %v, want not answered", err)
	}
	s.Reply(reach, "opened")

	rest, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}
	if rest[0] != chat.TextDelta("Both opened.") {
		t.Errorf("events = %v", rest)
	}

	if len(sc.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(sc.requests))
	}
	msgs := sc.requests[1].Messages
	// user, assistant with tool calls, two tool results
	if len(msgs) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(msgs))
	}
	asst := msgs[1].OfAssistant
	if asst == nil || len(asst.ToolCalls) != 2 {
		t.Fatalf("assistant = %+v, want 2 tool calls", asst)
	}
	if asst.ToolCalls[0].Function.Arguments != `{"query":"golang"}` {
		t.Errorf("arguments = %q", asst.ToolCalls[0].Function.Arguments)
	}
	for i, want := range []struct{ id, content string }{{"call_a", "searched"}, {"call_b", "opened"}} {
		tool := msgs[2+i].OfTool
		if tool == nil || tool.ToolCallID != want.id || tool.Content.OfString.Value != want.content {
			t.Errorf("tool message %d = %+v, want %s=%q", i, tool, want.id, want.content)
		}
	}
}

func TestOpenAIStream_ContentFilter(t *testing.T) {
	dec := &chunkDecoder{data: []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"Well"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"content_filter"}]}`,
	}}
	conv, _ := newScriptedConversation(&OpenAIRemote{}, chat.SessionConfig{Model: "gpt-4o"}, dec)
	s, _ := conv.SendStream(context.Background(), "q", nil)

	evts, err := drain(t, s)
	if len(evts) != 1 {
		t.Errorf("events = %v, want the partial text", evts)
	}
	if StatusOf(err) != StatusBlocked {
		t.Errorf("error = %v, want blocked", err)
	}
}

func TestOpenAIStream_RemoteError(t *testing.T) {
	dec := &chunkDecoder{data: []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"Half"}}]}`,
		`{"error":{"message":"overloaded"}}`,
	}}
	conv, _ := newScriptedConversation(&OpenAIRemote{}, chat.SessionConfig{Model: "gpt-4o"}, dec)
	s, _ := conv.SendStream(context.Background(), "q", nil)

	_, err := drain(t, s)
	if StatusOf(err) != StatusError || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("error = %v, want overloaded", err)
	}
	if len(conv.history) != 1 {
		t.Errorf("len(history) = %d, want only the user message", len(conv.history))
	}
}

func TestOpenAIConversation_Search(t *testing.T) {
	r := &OpenAIRemote{UseSystemRole: true, Params: &ModelParams{MaxTokens: 100}}
	conv, _ := newScriptedConversation(r, chat.SessionConfig{Model: "gpt-4o-search-preview", SystemInstruction: "sys", UseSearch: true})

	params := conv.params()
	if len(params.Tools) != 0 {
		t.Errorf("len(Tools) = %d, want 0 with search", len(params.Tools))
	}
	if params.WebSearchOptions.SearchContextSize != "medium" {
		t.Errorf("SearchContextSize = %q, want medium", params.WebSearchOptions.SearchContextSize)
	}
	if params.Messages[0].OfSystem == nil {
		t.Errorf("Messages[0] = %+v, want system prompt", params.Messages[0])
	}
	if params.MaxCompletionTokens.Value != 100 {
		t.Errorf("MaxCompletionTokens = %d, want 100", params.MaxCompletionTokens.Value)
	}
}

func TestOAIUserMessage(t *testing.T) {
	if _, err := oaiUserMessage("", nil); err == nil {
		t.Error("empty message should fail")
	}

	msg, err := oaiUserMessage("hi", nil)
	if err != nil {
		t.Fatalf("oaiUserMessage error: %v", err)
	}
	if msg.OfUser.Content.OfString.Value != "hi" {
		t.Errorf("content = %+v, want plain text", msg.OfUser.Content)
	}

	msg, err = oaiUserMessage("what?", []chat.Image{{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}})
	if err != nil {
		t.Fatalf("oaiUserMessage error: %v", err)
	}
	parts := msg.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if url := parts[0].OfImageURL.ImageURL.URL; url != "data:image/jpeg;base64,AQID" {
		t.Errorf("image url = %q", url)
	}
	if parts[1].OfText.Text != "what?" {
		t.Errorf("text part = %+v", parts[1].OfText)
	}
}

func TestOpenAIPuller_Interleaved(t *testing.T) {
	var p oaiPuller
	done := p.add([]openai.ChatCompletionChunkChoiceDeltaToolCall{
		{ID: "a", Function: openai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "play_", Arguments: `{"song":`}},
		{Function: openai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "music", Arguments: `"Hey Jude"}`}},
		{ID: "b", Function: openai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "generate_image", Arguments: `{"prompt":"a fox"}`}},
	})
	if len(done) != 1 || done[0].Name != "play_music" || done[0].Args["song"] != "Hey Jude" {
		t.Fatalf("done = %+v", done)
	}
	last := p.commitTool()
	if last == nil || last.ID != "b" || last.Args["prompt"] != "a fox" {
		t.Errorf("commitTool() = %+v", last)
	}
	if p.commitTool() != nil {
		t.Error("commitTool() with nothing running should be nil")
	}
	if len(p.committed) != 2 {
		t.Errorf("len(committed) = %d, want 2", len(p.committed))
	}
}

func TestOpenAIRemote_NoClient(t *testing.T) {
	var r OpenAIRemote
	if _, err := r.NewConversation(context.Background(), chat.SessionConfig{Model: "gpt-4o"}, nil); err == nil {
		t.Error("NewConversation without client should fail")
	}
	if _, err := r.GenerateImage(context.Background(), "a cat"); err == nil {
		t.Error("GenerateImage without client should fail")
	}
}
