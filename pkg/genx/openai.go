package genx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/haivivi/gizchat/pkg/chat"
)

var (
	_ chat.Remote         = (*OpenAIRemote)(nil)
	_ chat.ImageGenerator = (*OpenAIRemote)(nil)
)

const (
	oaiFinishReasonStop          string = "stop"
	oaiFinishReasonToolCalls     string = "tool_calls"
	oaiFinishReasonLength        string = "length"
	oaiFinishReasonFunctionCall  string = "function_call"
	oaiFinishReasonContentFilter string = "content_filter"
)

// OpenAIRemote implements chat.Remote using the OpenAI chat completions
// API. The API is stateless; each conversation keeps its message history.
type OpenAIRemote struct {
	Client *openai.Client `json:"-"`

	// ImageModel is the model for generate_image. Empty means gpt-image-1.
	ImageModel string `json:"image_model,omitzero"`

	Params *ModelParams `json:"params,omitzero"`

	// UseSystemRole sends the system instruction with the system role
	// instead of the developer role, for OpenAI-compatible servers.
	UseSystemRole bool `json:"use_system_role,omitzero"`

	ExtraFields map[string]any `json:"extra_fields,omitzero"`
}

type oaiOpenFunc func(context.Context, openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk]

// NewConversation starts a conversation bound to cfg. With UseSearch the
// request enables web search and declares no functions.
func (r *OpenAIRemote) NewConversation(_ context.Context, cfg chat.SessionConfig, tools []chat.ToolSpec) (chat.Conversation, error) {
	if r.Client == nil {
		return nil, errors.New("genx: openai client is not configured")
	}
	c := r.newConversation(cfg, tools)
	c.open = func(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
		return r.Client.Chat.Completions.NewStreaming(ctx, params)
	}
	return c, nil
}

func (r *OpenAIRemote) newConversation(cfg chat.SessionConfig, tools []chat.ToolSpec) *oaiConversation {
	c := &oaiConversation{
		remote: r,
		model:  cfg.Model,
		search: cfg.UseSearch,
	}
	if cfg.SystemInstruction != "" {
		c.history = append(c.history, r.convPrompt(cfg.SystemInstruction))
	}
	if !cfg.UseSearch {
		c.tools = oaiConvTools(tools)
	}
	return c
}

func (r *OpenAIRemote) convPrompt(text string) openai.ChatCompletionMessageParamUnion {
	if r.UseSystemRole {
		return openai.SystemMessage(text)
	}
	return openai.ChatCompletionMessageParamUnion{
		OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
			Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
				OfString: param.NewOpt(text),
			},
		},
	}
}

// GenerateImage renders prompt with an OpenAI image model.
func (r *OpenAIRemote) GenerateImage(ctx context.Context, prompt string) (*chat.Image, error) {
	if r.Client == nil {
		return nil, errors.New("genx: openai client is not configured")
	}
	model := openai.ImageModel(r.ImageModel)
	if model == "" {
		model = openai.ImageModelGPTImage1
	}
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  model,
		N:      param.NewOpt(int64(1)),
	}
	// gpt-image models always answer with base64 and reject response_format.
	if model == openai.ImageModelDallE2 || model == openai.ImageModelDallE3 {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	resp, err := r.Client.Images.Generate(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("genx: no image generated")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("genx: decode image: %w", err)
	}
	return &chat.Image{MIMEType: "image/png", Data: data}, nil
}

func oaiConvTools(tools []chat.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        string(t.Name),
				Description: param.NewOpt(t.Description),
				Parameters:  oaiConvSchema(t.Parameters),
			},
		})
	}
	return out
}

func oaiConvSchema(s *jsonschema.Schema) openai.FunctionParameters {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m openai.FunctionParameters
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

type oaiConversation struct {
	remote *OpenAIRemote
	model  string
	search bool
	tools  []openai.ChatCompletionToolParam
	open   oaiOpenFunc

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

func (c *oaiConversation) SendStream(ctx context.Context, text string, images []chat.Image) (chat.Stream, error) {
	msg, err := oaiUserMessage(text, images)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()

	s := &oaiStream{ctx: ctx, conv: c, pending: make(map[*chat.ToolInvocation]struct{})}
	s.sse = c.open(ctx, c.params())
	return s, nil
}

func oaiUserMessage(text string, images []chat.Image) (openai.ChatCompletionMessageParamUnion, error) {
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		}))
	}
	switch {
	case len(parts) == 0 && text == "":
		return openai.ChatCompletionMessageParamUnion{}, errors.New("genx: empty message")
	case len(parts) == 0:
		return openai.UserMessage(text), nil
	case text != "":
		parts = append(parts, openai.TextContentPart(text))
	}
	return openai.UserMessage(parts), nil
}

func (c *oaiConversation) params() openai.ChatCompletionNewParams {
	c.mu.Lock()
	msgs := make([]openai.ChatCompletionMessageParamUnion, len(c.history))
	copy(msgs, c.history)
	c.mu.Unlock()

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    c.model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if mp := c.remote.Params; mp != nil {
		if mp.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(mp.MaxTokens))
		}
		if mp.Temperature > 0 {
			params.Temperature = param.NewOpt(float64(mp.Temperature))
		}
		if mp.TopP > 0 {
			params.TopP = param.NewOpt(float64(mp.TopP))
		}
	}
	if c.search {
		params.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: "medium",
		}
	} else if len(c.tools) > 0 {
		params.Tools = c.tools
	}
	if len(c.remote.ExtraFields) > 0 {
		params.SetExtraFields(c.remote.ExtraFields)
	}
	return params
}

func (c *oaiConversation) record(msgs ...openai.ChatCompletionMessageParamUnion) {
	c.mu.Lock()
	c.history = append(c.history, msgs...)
	c.mu.Unlock()
}

// oaiStream adapts chat completion chunks to chat.Stream. A step that ends
// with tool calls is recorded together with the replies and followed by a
// new completion request.
type oaiStream struct {
	ctx  context.Context
	conv *oaiConversation

	mu      sync.Mutex
	sse     *ssestream.Stream[openai.ChatCompletionChunk]
	puller  oaiPuller
	text    strings.Builder
	pending map[*chat.ToolInvocation]struct{}
	queue   []chat.Event
	err     error
	usage   Usage
	done    bool
}

type oaiPuller struct {
	runningTool *openai.ChatCompletionChunkChoiceDeltaToolCall
	committed   []oaiToolCall
}

type oaiToolCall struct {
	inv  *chat.ToolInvocation
	args string
	// result is set by Reply.
	result string
}

func (p *oaiPuller) commitTool() *chat.ToolInvocation {
	if p.runningTool == nil {
		return nil
	}
	defer func() { p.runningTool = nil }()

	id := p.runningTool.ID
	if id == "" {
		id = "call_" + hexString()
	}
	inv := &chat.ToolInvocation{
		ID:   id,
		Name: p.runningTool.Function.Name,
		Args: parseArgs(p.runningTool.Function.Arguments),
	}
	p.committed = append(p.committed, oaiToolCall{inv: inv, args: p.runningTool.Function.Arguments})
	return inv
}

// add merges tool call deltas. A delta with a new id starts a new call;
// deltas without id continue the running one.
func (p *oaiPuller) add(deltas []openai.ChatCompletionChunkChoiceDeltaToolCall) []*chat.ToolInvocation {
	var done []*chat.ToolInvocation
	for _, t := range deltas {
		switch p.runningTool {
		default:
			if t.ID == "" || t.ID == p.runningTool.ID {
				p.runningTool.Function.Name += t.Function.Name
				p.runningTool.Function.Arguments += t.Function.Arguments
			} else {
				done = append(done, p.commitTool())
				p.runningTool = &t
			}
		case nil:
			if t.ID != "" {
				p.runningTool = &t
			}
		}
	}
	return done
}

func (s *oaiStream) Next() (chat.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue = s.queue[1:]
			return evt, nil
		}
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}
		if s.sse == nil {
			if len(s.pending) > 0 {
				return nil, fmt.Errorf("genx: %d tool invocation(s) not answered", len(s.pending))
			}
			if len(s.puller.committed) > 0 {
				s.conv.record(s.stepMessages()...)
				s.text.Reset()
				s.puller = oaiPuller{}
				s.sse = s.conv.open(s.ctx, s.conv.params())
				continue
			}
			if s.text.Len() > 0 {
				s.conv.record(openai.AssistantMessage(s.text.String()))
			}
			s.done = true
			slog.Debug("genx/openai: stream done", "model", s.conv.model,
				"prompt", s.usage.PromptTokenCount, "generated", s.usage.GeneratedTokenCount)
			return chat.End{}, nil
		}
		if !s.sse.Next() {
			err := s.sse.Err()
			s.sse.Close()
			s.sse = nil
			s.commit(s.puller.commitTool())
			if err != nil {
				s.err = Error(s.usage, err)
			}
			continue
		}
		if err := s.consume(s.sse.Current()); err != nil {
			s.sse.Close()
			s.sse = nil
			s.err = err
		}
	}
}

func (s *oaiStream) consume(chunk openai.ChatCompletionChunk) error {
	if chunk.Usage.TotalTokens > 0 {
		s.usage = s.usage.Add(oaiConvUsage(&chunk.Usage))
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	sel := chunk.Choices[0]
	if v := sel.Delta.Content; v != "" {
		s.text.WriteString(v)
		s.queue = append(s.queue, chat.TextDelta(v))
	}
	for _, inv := range s.puller.add(sel.Delta.ToolCalls) {
		s.commit(inv)
	}
	switch sel.FinishReason {
	case oaiFinishReasonFunctionCall, oaiFinishReasonToolCalls:
		s.commit(s.puller.commitTool())
	case oaiFinishReasonLength:
		slog.Warn("genx/openai: reply truncated", "model", s.conv.model)
	case oaiFinishReasonContentFilter:
		return Blocked(s.usage, "content filter")
	}
	if v := sel.Delta.Refusal; v != "" {
		return Blocked(s.usage, v)
	}
	return nil
}

func (s *oaiStream) commit(inv *chat.ToolInvocation) {
	if inv == nil {
		return
	}
	s.pending[inv] = struct{}{}
	s.queue = append(s.queue, inv)
}

// stepMessages returns the assistant message carrying the tool calls of the
// finished step followed by one tool message per call.
func (s *oaiStream) stepMessages() []openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if s.text.Len() > 0 {
		asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(s.text.String()),
		}
	}
	for _, call := range s.puller.committed {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.inv.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.inv.Name,
				Arguments: call.args,
			},
		})
	}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.puller.committed)+1)
	out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
	for _, call := range s.puller.committed {
		out = append(out, openai.ToolMessage(call.result, call.inv.ID))
	}
	return out
}

func (s *oaiStream) Reply(inv *chat.ToolInvocation, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[inv]; !ok {
		return fmt.Errorf("genx: reply to unknown tool invocation %s", inv.Name)
	}
	delete(s.pending, inv)
	for i := range s.puller.committed {
		if s.puller.committed[i].inv == inv {
			s.puller.committed[i].result = result
		}
	}
	return nil
}

func (s *oaiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.sse == nil {
		return nil
	}
	err := s.sse.Close()
	s.sse = nil
	return err
}

func oaiConvUsage(usage *openai.CompletionUsage) Usage {
	return Usage{
		PromptTokenCount:        usage.PromptTokens,
		CachedContentTokenCount: usage.PromptTokensDetails.CachedTokens,
		GeneratedTokenCount:     usage.CompletionTokens,
	}
}
