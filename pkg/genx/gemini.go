package genx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"

	"github.com/haivivi/gizchat/pkg/chat"
)

// DefaultGeminiImageModel is the Imagen model used by GenerateImage.
const DefaultGeminiImageModel = "imagen-4.0-generate-001"

var (
	_ chat.Remote         = (*GeminiRemote)(nil)
	_ chat.ImageGenerator = (*GeminiRemote)(nil)
)

// GeminiRemote implements chat.Remote using the Google Gemini API.
type GeminiRemote struct {
	Client *genai.Client `json:"-"`

	// ImageModel is the Imagen model for generate_image. Empty means
	// DefaultGeminiImageModel.
	ImageModel string `json:"image_model,omitzero"`

	// Params are applied to every conversation.
	Params *ModelParams `json:"params,omitzero"`
}

// ModelParams are the sampling parameters of a conversation.
type ModelParams struct {
	MaxTokens   int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitzero" yaml:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitzero" yaml:"top_p,omitempty"`
	TopK        float32 `json:"top_k,omitzero" yaml:"top_k,omitempty"`
}

// NewConversation starts a Gemini chat bound to cfg. With UseSearch the
// conversation is grounded with Google Search and declares no functions.
func (g *GeminiRemote) NewConversation(ctx context.Context, cfg chat.SessionConfig, tools []chat.ToolSpec) (chat.Conversation, error) {
	if g.Client == nil {
		return nil, errors.New("genx: gemini client is not configured")
	}
	model := strings.TrimPrefix(cfg.Model, "models/")
	c, err := g.Client.Chats.Create(ctx, model, g.convConfig(cfg, tools), nil)
	if err != nil {
		return nil, geminiUnwrapErr(err)
	}
	slog.Debug("genx/gemini: conversation created", "model", model, "search", cfg.UseSearch, "tools", len(tools))
	return &geminiConversation{model: model, send: c.SendStream}, nil
}

func (g *GeminiRemote) convConfig(cfg chat.SessionConfig, tools []chat.ToolSpec) *genai.GenerateContentConfig {
	gc := genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{
				Category:  genai.HarmCategoryHateSpeech,
				Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
			},
			{
				Category:  genai.HarmCategoryHarassment,
				Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
			},
			{
				Category:  genai.HarmCategoryDangerousContent,
				Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
			},
		},
	}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(cfg.SystemInstruction)}}
	}
	if mp := g.Params; mp != nil {
		if mp.MaxTokens > 0 {
			gc.MaxOutputTokens = int32(mp.MaxTokens)
		}
		if mp.Temperature > 0 {
			gc.Temperature = &mp.Temperature
		}
		if mp.TopP > 0 {
			gc.TopP = &mp.TopP
		}
		if mp.TopK > 0 {
			gc.TopK = &mp.TopK
		}
	}
	gc.Tools = geminiConvTools(cfg.UseSearch, tools)
	return &gc
}

// geminiConvTools declares either Google Search grounding or the function
// tools. The Gemini chat API does not accept both in one request.
func geminiConvTools(useSearch bool, tools []chat.ToolSpec) []*genai.Tool {
	if useSearch {
		return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        string(t.Name),
			Description: t.Description,
		}
		if t.Parameters != nil && len(t.Parameters.Properties) > 0 {
			decl.Parameters = geminiConvSchema(t.Parameters)
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// GenerateImage renders prompt with an Imagen model.
func (g *GeminiRemote) GenerateImage(ctx context.Context, prompt string) (*chat.Image, error) {
	if g.Client == nil {
		return nil, errors.New("genx: gemini client is not configured")
	}
	model := g.ImageModel
	if model == "" {
		model = DefaultGeminiImageModel
	}
	resp, err := g.Client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, geminiUnwrapErr(err)
	}
	if len(resp.GeneratedImages) == 0 {
		return nil, errors.New("genx: no image generated")
	}
	gen := resp.GeneratedImages[0]
	if gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
		if gen.RAIFilteredReason != "" {
			return nil, Blocked(Usage{}, gen.RAIFilteredReason)
		}
		return nil, errors.New("genx: empty image")
	}
	mime := gen.Image.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return &chat.Image{MIMEType: mime, Data: gen.Image.ImageBytes}, nil
}

type geminiSendFunc func(ctx context.Context, parts ...*genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]

type geminiConversation struct {
	model string
	send  geminiSendFunc
}

func (c *geminiConversation) SendStream(ctx context.Context, text string, images []chat.Image) (chat.Stream, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	if len(parts) == 0 {
		return nil, errors.New("genx: empty message")
	}
	return newGeminiStream(ctx, c.model, c.send, parts), nil
}

// geminiStream adapts Gemini chat responses to chat.Stream. Function calls
// of one model step are answered together: once the response iterator is
// exhausted and every call has a reply, the replies are sent as the next
// message of the chat and streaming resumes.
type geminiStream struct {
	ctx   context.Context
	model string
	send  geminiSendFunc

	mu      sync.Mutex
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	queue   []chat.Event
	err     error
	pending map[*chat.ToolInvocation]string
	replies []*genai.Part
	usage   Usage
	done    bool
}

func newGeminiStream(ctx context.Context, model string, send geminiSendFunc, parts []*genai.Part) *geminiStream {
	s := &geminiStream{
		ctx:     ctx,
		model:   model,
		send:    send,
		pending: make(map[*chat.ToolInvocation]string),
	}
	s.next, s.stop = iter.Pull2(send(ctx, parts...))
	return s
}

func (s *geminiStream) Next() (chat.Event, error) {
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
		if s.next == nil {
			if len(s.pending) > 0 {
				return nil, fmt.Errorf("genx: %d tool invocation(s) not answered", len(s.pending))
			}
			if len(s.replies) > 0 {
				parts := s.replies
				s.replies = nil
				s.next, s.stop = iter.Pull2(s.send(s.ctx, parts...))
				continue
			}
			s.done = true
			slog.Debug("genx/gemini: stream done", "model", s.model,
				"prompt", s.usage.PromptTokenCount, "generated", s.usage.GeneratedTokenCount)
			return chat.End{}, nil
		}
		resp, err, ok := s.next()
		if !ok {
			s.release()
			continue
		}
		if err != nil {
			s.release()
			s.err = Error(s.usage, geminiUnwrapErr(err))
			continue
		}
		if err := s.consume(resp); err != nil {
			s.release()
			s.err = err
		}
	}
}

// consume queues the events of one response chunk and returns a terminal
// error for finish reasons that abort the reply.
func (s *geminiStream) consume(resp *genai.GenerateContentResponse) error {
	if resp.UsageMetadata != nil {
		// Usage is cumulative within a request; keep the latest value.
		s.usage = geminiConvUsage(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]

	var sb strings.Builder
	flush := func() {
		if sb.Len() > 0 {
			s.queue = append(s.queue, chat.TextDelta(sb.String()))
			sb.Reset()
		}
	}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Thought:
				// skip
			case p.Text != "":
				sb.WriteString(p.Text)
			case p.FunctionCall != nil:
				flush()
				s.queue = append(s.queue, s.invocation(p.FunctionCall))
			case p.InlineData != nil:
				slog.Debug("genx/gemini: inline data ignored", "mime", p.InlineData.MIMEType, "size", len(p.InlineData.Data))
			}
		}
	}
	flush()

	if g := geminiConvGrounding(cand.GroundingMetadata); len(g) > 0 {
		s.queue = append(s.queue, g)
	}

	switch cand.FinishReason {
	case genai.FinishReasonUnspecified, "", genai.FinishReasonStop:
		return nil
	case genai.FinishReasonMaxTokens:
		slog.Warn("genx/gemini: reply truncated", "model", s.model, "generated", s.usage.GeneratedTokenCount)
		return nil
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		var cats []string
		for _, sr := range cand.SafetyRatings {
			if sr.Blocked {
				cats = append(cats, string(sr.Category))
			}
		}
		reason := string(cand.FinishReason)
		if len(cats) > 0 {
			reason = "blocked by " + strings.Join(cats, ", ")
		}
		return Blocked(s.usage, reason)
	default:
		return Error(s.usage, fmt.Errorf("unexpected finish reason: %s", cand.FinishReason))
	}
}

func (s *geminiStream) invocation(fc *genai.FunctionCall) *chat.ToolInvocation {
	id := fc.ID
	if id == "" {
		id = "call_" + hexString()
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	inv := &chat.ToolInvocation{ID: id, Name: fc.Name, Args: args}
	s.pending[inv] = fc.ID
	return inv
}

func (s *geminiStream) Reply(inv *chat.ToolInvocation, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	callID, ok := s.pending[inv]
	if !ok {
		return fmt.Errorf("genx: reply to unknown tool invocation %s", inv.Name)
	}
	delete(s.pending, inv)
	s.replies = append(s.replies, &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       callID,
			Name:     inv.Name,
			Response: map[string]any{"output": result},
		},
	})
	return nil
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.done = true
	return nil
}

func (s *geminiStream) release() {
	if s.stop != nil {
		s.stop()
	}
	s.next, s.stop = nil, nil
}

func geminiConvGrounding(md *genai.GroundingMetadata) chat.GroundingDelta {
	if md == nil {
		return nil
	}
	var out chat.GroundingDelta
	for _, c := range md.GroundingChunks {
		if c == nil || c.Web == nil || c.Web.URI == "" {
			continue
		}
		out = append(out, chat.GroundingChunk{SourceURI: c.Web.URI, SourceTitle: c.Web.Title})
	}
	return out
}

func geminiUnwrapErr(err error) error {
	if e, ok := err.(*apierror.APIError); ok {
		return e.Unwrap()
	}
	return err
}

func geminiConvSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	enums := make([]string, 0, len(schema.Enum))
	for _, v := range schema.Enum {
		enums = append(enums, fmt.Sprintf("%v", v))
	}

	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Items:       geminiConvSchema(schema.Items),
		Required:    schema.Required,
	}
	if len(enums) > 0 {
		gs.Enum = enums
	}

	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiConvSchema(prop)
		}
	}
	typ := schema.Type
	if typ == "" {
		for _, t := range schema.Types {
			if t == "null" {
				gs.Nullable = genai.Ptr(true)
				continue
			}
			typ = t
		}
	}
	switch typ {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}

func geminiConvUsage(usage *genai.GenerateContentResponseUsageMetadata) Usage {
	if usage == nil {
		return Usage{}
	}
	return Usage{
		PromptTokenCount:        int64(usage.PromptTokenCount),
		CachedContentTokenCount: int64(usage.CachedContentTokenCount),
		GeneratedTokenCount:     int64(usage.CandidatesTokenCount),
	}
}
