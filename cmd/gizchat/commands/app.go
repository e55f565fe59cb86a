package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/gallery"
	"github.com/haivivi/gizchat/pkg/genx"
	"github.com/haivivi/gizchat/pkg/kv"
	"github.com/haivivi/gizchat/pkg/prefs"
	"github.com/haivivi/gizchat/pkg/voice"
)

// Test hooks.
var (
	testRemote     chat.Remote
	testKVOverride kv.Store
)

// appOptions select the interactive features a command needs.
type appOptions struct {
	Model  string
	System string
	Search *bool
	Opener chat.LinkOpener

	// Speech wires the configured player as the reply speaker.
	Speech bool
	// Live wires the microphone and player for live mode.
	Live bool
	// Transcript receives live transcriptions.
	Transcript func(role chat.Role, text string)
}

// app is the engine and its collaborators built from one context.
type app struct {
	name    string
	cc      *cli.Context
	engine  *chat.Engine
	mux     *genx.Mux
	gallery *gallery.Gallery
	prefs   *prefs.Store
	store   kv.Store
	speaker *genx.GeminiSpeaker
	live    *genx.GeminiLive
	timeout time.Duration
}

// openLocal opens the parts of an app that need no model provider: the
// store, the prefs and the gallery.
func openLocal() (*app, error) {
	cc, err := getContext()
	if err != nil {
		return nil, err
	}
	a := &app{name: cc.Name, cc: cc, timeout: time.Duration(cc.Timeout) * time.Second}
	if err := a.openStore(); err != nil {
		return nil, err
	}
	a.prefs = prefs.New(a.store, a.name)
	if a.gallery, err = a.openGallery(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	a, err := openLocal()
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()
	cc := a.cc

	saved, err := a.prefs.Load(ctx)
	if err != nil {
		slog.Warn("gizchat: load prefs", "context", a.name, "error", err)
	}

	gclient, err := a.openProviders(ctx)
	if err != nil {
		return nil, err
	}

	var (
		speaker chat.Speaker
		live    chat.LiveSession
	)
	if opts.Speech || opts.Live {
		if err := a.openAudio(gclient, opts); err != nil {
			return nil, err
		}
	}
	if opts.Speech && a.speaker != nil {
		speaker = a.speaker
	}
	if opts.Live && a.live != nil {
		live = a.live
	}

	a.engine = chat.New(chat.Options{
		Remote:    a.mux,
		Images:    a.mux,
		Archiver:  a.gallery,
		Opener:    opts.Opener,
		Speaker:   speaker,
		Live:      live,
		AutoSpeak: saved.AutoSpeak && speaker != nil,
	})
	if a.live != nil {
		a.live.Dispatch = a.engine.Dispatch
	}

	cfg := chat.SessionConfig{
		Model:             firstNonEmpty(opts.Model, saved.Model, cc.Model),
		SystemInstruction: firstNonEmpty(opts.System, cc.SystemInstruction),
		UseSearch:         saved.UseSearch,
	}
	if opts.Search != nil {
		cfg.UseSearch = *opts.Search
	}
	a.engine.Start(cfg)
	if saved.SpeechRate > 0 {
		a.engine.SetSpeechRate(saved.SpeechRate)
	}
	ok = true
	return a, nil
}

func (a *app) openStore() error {
	if testKVOverride != nil {
		a.store = testKVOverride
		return nil
	}
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return err
	}
	dir, err := cli.Ensure(paths.DataDir(a.name))
	if err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// openProviders registers the configured remotes with the mux and returns
// the Gemini client, if any, for speech and live mode.
func (a *app) openProviders(ctx context.Context) (*genai.Client, error) {
	a.mux = genx.NewMux()
	if testRemote != nil {
		a.mux.Handle("test", testRemote)
		if g, ok := testRemote.(chat.ImageGenerator); ok {
			a.mux.HandleImages(g)
		}
		return nil, nil
	}

	var gclient *genai.Client
	if gcfg := a.geminiConfig(); gcfg != nil {
		c, err := genai.NewClient(ctx, gcfg)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		gclient = c
		remote := &genx.GeminiRemote{Client: c, ImageModel: a.cc.ImageModel}
		a.mux.Handle("gemini", remote)
		a.mux.HandleImages(remote)
	}

	if key, baseURL, ok := a.openAIConfig(); ok {
		opts := []option.RequestOption{option.WithAPIKey(key)}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		remote := &genx.OpenAIRemote{Client: &client, ImageModel: a.cc.ImageModel}
		a.mux.Handle("openai", remote)
		if gclient == nil {
			a.mux.HandleImages(remote)
		}
	}

	if len(a.mux.Providers()) == 0 {
		return nil, errors.New("no model provider configured; set GEMINI_API_KEY or run 'gizchat config set <context> gemini.api_key <key>'")
	}
	return gclient, nil
}

func (a *app) geminiConfig() *genai.ClientConfig {
	g := a.cc.Gemini
	if g == nil {
		key := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil
		}
		return &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	}
	if g.Backend == "vertex" {
		return &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cli.Secret(g.Project),
			Location: g.Location,
		}
	}
	key := cli.Secret(g.APIKey)
	if key == "" {
		return nil
	}
	return &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
}

func (a *app) openAIConfig() (key, baseURL string, ok bool) {
	o := a.cc.OpenAI
	if o == nil {
		key = os.Getenv("OPENAI_API_KEY")
		return key, "", key != ""
	}
	key = cli.Secret(o.APIKey)
	// local OpenAI-compatible servers accept any key
	if key == "" && o.BaseURL != "" {
		key = "none"
	}
	return key, o.BaseURL, key != ""
}

func (a *app) openGallery() (*gallery.Gallery, error) {
	g := a.cc.Gallery
	if g != nil && g.Bucket != "" {
		client := s3.New(s3.Options{
			Region:       firstNonEmpty(g.Region, os.Getenv("AWS_REGION"), "us-east-1"),
			Credentials:  aws.CredentialsProviderFunc(envCredentials),
			BaseEndpoint: optionalString(g.Endpoint),
			UsePathStyle: g.Endpoint != "",
		})
		backend := gallery.NewS3(client, g.Bucket, g.Prefix)
		backend.PublicURL = g.PublicURL
		return gallery.New(backend, a.store), nil
	}

	dir := ""
	if g != nil {
		dir = g.Dir
	}
	if dir == "" {
		paths, err := cli.NewPaths(appName)
		if err != nil {
			return nil, err
		}
		dir = paths.GalleryDir(a.name)
	}
	local, err := gallery.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	return gallery.New(local, a.store), nil
}

// envCredentials reads the standard AWS environment variables.
func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set for the S3 gallery")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}

// openAudio builds the speaker and the live session from the audio
// commands of the context. Both need Gemini.
func (a *app) openAudio(gclient *genai.Client, opts appOptions) error {
	ac := a.cc.Audio
	if gclient == nil || ac == nil || ac.Player == "" {
		slog.Info("gizchat: audio disabled", "context", a.name)
		return nil
	}
	player, err := voice.ParseCommand(ac.Player, voice.Format{
		SampleRate: orDefault(ac.PlayerRate, genx.GeminiTTSSampleRate),
		Stereo:     ac.PlayerStereo,
	})
	if err != nil {
		return fmt.Errorf("audio.player: %w", err)
	}
	sink := func() (io.WriteCloser, error) { return player.Sink(voice.Mono24K) }

	if opts.Speech {
		a.speaker = &genx.GeminiSpeaker{
			Client: gclient,
			Model:  ac.SpeechModel,
			Voice:  ac.Voice,
			Open:   sink,
		}
	}
	if opts.Live && ac.Mic != "" {
		mic, err := voice.ParseCommand(ac.Mic, voice.Format{
			SampleRate: orDefault(ac.MicRate, genx.GeminiLiveInputSampleRate),
		})
		if err != nil {
			return fmt.Errorf("audio.mic: %w", err)
		}
		a.live = &genx.GeminiLive{
			Client:            gclient,
			Model:             ac.LiveModel,
			Voice:             ac.Voice,
			SystemInstruction: liveInstruction(opts.System, a.cc.SystemInstruction),
			Tools:             chat.Tools(),
			Mic:               func() (io.ReadCloser, error) { return mic.Source(voice.Mono16K) },
			Speaker:           sink,
			Transcript:        opts.Transcript,
		}
	}
	return nil
}

// sendContext bounds one send by the context timeout.
func (a *app) sendContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(parent, a.timeout)
	}
	return context.WithCancel(parent)
}

// remember updates the stored prefs; failures are logged only.
func (a *app) remember(ctx context.Context, f func(*prefs.Prefs)) {
	if err := a.prefs.Update(ctx, f); err != nil {
		slog.Warn("gizchat: save prefs", "context", a.name, "error", err)
	}
}

func (a *app) Close() error {
	if a.live != nil && a.live.Active() {
		a.live.Exit(context.Background())
	}
	if a.speaker != nil {
		a.speaker.Stop()
		a.speaker.Wait()
	}
	if a.store != nil && a.store != testKVOverride {
		return a.store.Close()
	}
	return nil
}

// liveInstruction picks the live system instruction the way a chat session
// does; it is never empty.
func liveInstruction(system, configured string) string {
	return firstNonEmpty(system, configured, chat.DefaultSystemInstruction)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
