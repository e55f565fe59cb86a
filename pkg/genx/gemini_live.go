package genx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/haivivi/gizchat/pkg/chat"
)

const (
	// DefaultGeminiLiveModel is the model of live voice sessions.
	DefaultGeminiLiveModel = "gemini-live-2.5-flash-preview"

	// GeminiLiveInputSampleRate is the sample rate of microphone PCM sent
	// to a live session: mono 16-bit little-endian.
	GeminiLiveInputSampleRate = 16000

	liveInputChunk = GeminiLiveInputSampleRate / 10 * 2 // 100ms
)

var _ chat.LiveSession = (*GeminiLive)(nil)

// liveConn is the part of *genai.Session used by GeminiLive.
type liveConn interface {
	SendRealtimeInput(genai.LiveRealtimeInput) error
	SendToolResponse(genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// GeminiLive implements chat.LiveSession over the Gemini Live API. While
// entered it streams microphone PCM to the model, plays the spoken answer,
// and answers tool calls through Dispatch.
type GeminiLive struct {
	Client            *genai.Client
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []chat.ToolSpec

	// Dispatch answers tool calls, usually (*chat.Engine).Dispatch.
	Dispatch func(context.Context, *chat.ToolInvocation) string

	// Mic opens the capture stream: mono 16-bit PCM at
	// GeminiLiveInputSampleRate. Nil means no audio input.
	Mic func() (io.ReadCloser, error)

	// Speaker opens the playback sink: mono 16-bit PCM at
	// GeminiTTSSampleRate. Nil discards audio.
	Speaker func() (io.WriteCloser, error)

	// Transcript receives transcriptions of both sides.
	Transcript func(role chat.Role, text string)

	// connect overrides the remote connection in tests.
	connect func(ctx context.Context) (liveConn, error)

	mu  sync.Mutex
	run *liveRun
}

type liveRun struct {
	conn   liveConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mic    io.ReadCloser
	out    io.WriteCloser
}

func (g *GeminiLive) Enter(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.run != nil {
		return nil
	}
	connect := g.connect
	if connect == nil {
		connect = g.geminiConnect
	}
	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	run := &liveRun{conn: conn}
	if g.Mic != nil {
		if run.mic, err = g.Mic(); err != nil {
			conn.Close()
			return err
		}
	}
	if g.Speaker != nil {
		if run.out, err = g.Speaker(); err != nil {
			conn.Close()
			if run.mic != nil {
				run.mic.Close()
			}
			return err
		}
	}

	// The session outlives the context of Enter.
	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		g.receive(runCtx, run)
	}()
	if run.mic != nil {
		run.wg.Add(1)
		go func() {
			defer run.wg.Done()
			g.pumpMic(runCtx, run)
		}()
	}
	g.run = run
	slog.Info("genx/gemini_live: session started", "model", g.model())
	return nil
}

func (g *GeminiLive) Exit(context.Context) error {
	g.mu.Lock()
	run := g.run
	g.run = nil
	g.mu.Unlock()
	if run == nil {
		return nil
	}
	run.cancel()
	err := run.conn.Close()
	if run.mic != nil {
		run.mic.Close()
	}
	run.wg.Wait()
	if run.out != nil {
		run.out.Close()
	}
	slog.Info("genx/gemini_live: session ended")
	return err
}

// Active reports whether a session is running.
func (g *GeminiLive) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run != nil
}

func (g *GeminiLive) model() string {
	if g.Model == "" {
		return DefaultGeminiLiveModel
	}
	return g.Model
}

func (g *GeminiLive) geminiConnect(ctx context.Context) (liveConn, error) {
	if g.Client == nil {
		return nil, errors.New("genx: gemini client is not configured")
	}
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SpeechConfig:             geminiSpeechConfig(g.Voice),
		Tools:                    geminiConvTools(false, g.Tools),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if g.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(g.SystemInstruction)}}
	}
	sess, err := g.Client.Live.Connect(ctx, g.model(), cfg)
	if err != nil {
		return nil, geminiUnwrapErr(err)
	}
	return sess, nil
}

func (g *GeminiLive) pumpMic(ctx context.Context, run *liveRun) {
	buf := make([]byte, liveInputChunk)
	for {
		n, err := io.ReadFull(run.mic, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := run.conn.SendRealtimeInput(genai.LiveRealtimeInput{
				Audio: &genai.Blob{MIMEType: "audio/pcm;rate=16000", Data: data},
			}); err != nil {
				if ctx.Err() == nil {
					slog.Warn("genx/gemini_live: send audio", "error", err)
				}
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && (err == io.EOF || err == io.ErrUnexpectedEOF) {
				run.conn.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
			} else if ctx.Err() == nil {
				slog.Warn("genx/gemini_live: read mic", "error", err)
			}
			return
		}
	}
}

func (g *GeminiLive) receive(ctx context.Context, run *liveRun) {
	for {
		msg, err := run.conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("genx/gemini_live: receive", "error", err)
			}
			return
		}
		if sc := msg.ServerContent; sc != nil {
			g.handleContent(run, sc)
		}
		if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
			if err := run.conn.SendToolResponse(genai.LiveToolResponseInput{
				FunctionResponses: g.answer(ctx, tc.FunctionCalls),
			}); err != nil && ctx.Err() == nil {
				slog.Warn("genx/gemini_live: send tool response", "error", err)
			}
		}
		if msg.GoAway != nil {
			slog.Warn("genx/gemini_live: server is closing the session")
		}
	}
}

func (g *GeminiLive) handleContent(run *liveRun, sc *genai.LiveServerContent) {
	if sc.ModelTurn != nil && run.out != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if _, err := run.out.Write(p.InlineData.Data); err != nil {
				slog.Warn("genx/gemini_live: play audio", "error", err)
			}
		}
	}
	if g.Transcript != nil {
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			g.Transcript(chat.RoleUser, t.Text)
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			g.Transcript(chat.RoleModel, t.Text)
		}
	}
	if sc.Interrupted {
		slog.Debug("genx/gemini_live: interrupted")
	}
}

func (g *GeminiLive) answer(ctx context.Context, calls []*genai.FunctionCall) []*genai.FunctionResponse {
	out := make([]*genai.FunctionResponse, 0, len(calls))
	for _, fc := range calls {
		result := chat.ResultToolDone
		if g.Dispatch != nil {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			result = g.Dispatch(ctx, &chat.ToolInvocation{ID: fc.ID, Name: fc.Name, Args: args})
		}
		out = append(out, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"output": result},
		})
	}
	return out
}
