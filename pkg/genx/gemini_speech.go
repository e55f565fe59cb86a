package genx

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/haivivi/gizchat/pkg/chat"
)

const (
	// DefaultGeminiTTSModel is the speech model used by GeminiSpeaker.
	DefaultGeminiTTSModel = "gemini-2.5-flash-preview-tts"

	// DefaultGeminiVoice is the prebuilt voice of speech and live audio.
	DefaultGeminiVoice = "Kore"

	// GeminiTTSSampleRate is the sample rate of Gemini TTS and live output:
	// mono 16-bit little-endian PCM.
	GeminiTTSSampleRate = 24000
)

var _ chat.Speaker = (*GeminiSpeaker)(nil)

// GeminiSpeaker implements chat.Speaker with a Gemini TTS model. Speak
// returns immediately; synthesis streams PCM into a sink opened per
// utterance. A new utterance or Stop aborts the current one.
type GeminiSpeaker struct {
	Client *genai.Client
	Model  string
	Voice  string

	// Open returns the sink of one utterance. It receives mono 16-bit PCM at
	// GeminiTTSSampleRate. Close must be safe to call more than once. A sink
	// with an Abort() error method is aborted instead of closed on Stop.
	Open func() (io.WriteCloser, error)

	// synth overrides the remote call in tests.
	synth func(ctx context.Context, prompt string) iter.Seq2[[]byte, error]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *GeminiSpeaker) Speak(text string, rate float64) {
	if text == "" || s.Open == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.speak(ctx, speechPrompt(text, rate)); err != nil && ctx.Err() == nil {
			slog.Warn("genx/gemini_speech: speak", "error", err)
		}
	}()
}

// Stop aborts the current utterance.
func (s *GeminiSpeaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Wait blocks until every started utterance has ended.
func (s *GeminiSpeaker) Wait() {
	s.wg.Wait()
}

func (s *GeminiSpeaker) speak(ctx context.Context, prompt string) error {
	sink, err := s.Open()
	if err != nil {
		return err
	}
	defer sink.Close()
	stop := context.AfterFunc(ctx, func() {
		if a, ok := sink.(interface{ Abort() error }); ok {
			a.Abort()
			return
		}
		sink.Close()
	})
	defer stop()

	synth := s.synth
	if synth == nil {
		synth = s.geminiSynth
	}
	for pcm, err := range synth(ctx, prompt) {
		if err != nil {
			return err
		}
		if _, err := sink.Write(pcm); err != nil {
			return err
		}
	}
	return nil
}

func (s *GeminiSpeaker) geminiSynth(ctx context.Context, prompt string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if s.Client == nil {
			yield(nil, errors.New("genx: gemini client is not configured"))
			return
		}
		model := s.Model
		if model == "" {
			model = DefaultGeminiTTSModel
		}
		cfg := &genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityAudio)},
			SpeechConfig:       geminiSpeechConfig(s.Voice),
		}
		for resp, err := range s.Client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), cfg) {
			if err != nil {
				yield(nil, geminiUnwrapErr(err))
				return
			}
			for _, pcm := range geminiAudioParts(resp) {
				if !yield(pcm, nil) {
					return
				}
			}
		}
	}
}

func geminiAudioParts(resp *genai.GenerateContentResponse) [][]byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out [][]byte
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			out = append(out, p.InlineData.Data)
		}
	}
	return out
}

func geminiSpeechConfig(voice string) *genai.SpeechConfig {
	if voice == "" {
		voice = DefaultGeminiVoice
	}
	return &genai.SpeechConfig{
		VoiceConfig: &genai.VoiceConfig{
			PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
		},
	}
}

// speechPrompt steers the speaking pace. Gemini TTS takes pace as a style
// instruction rather than a numeric rate.
func speechPrompt(text string, rate float64) string {
	switch {
	case rate > 0 && rate < 0.85:
		return "Say slowly: " + text
	case rate > 1.15:
		return "Say quickly: " + text
	default:
		return text
	}
}
