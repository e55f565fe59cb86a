package commands

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/feed"
	"github.com/haivivi/gizchat/pkg/opener"
)

var (
	chatModelFlag string
	chatSearch    bool
	chatFeedAddr  string
	chatNoBrowser bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively",
	Long: `Open the interactive chat.

Type a message and press enter. Lines starting with / are commands:

  /new             start a new chat
  /model [id]      show or switch the model (gemini/..., openai/...)
  /search on|off   ground replies with web search
  /speak on|off    read replies aloud
  /rate 1.25       speech rate
  /stop            stop speaking
  /live            toggle the live voice conversation
  /attach path     attach an image to the next message
  /quit            leave

Model, search and speech settings are remembered per context.

With --feed the transcript is also served over HTTP: /ws streams
snapshots, /turns returns the current transcript and /images serves
generated images.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logWriter := cli.NewLogWriter(100)
	setupLogging(logWriter)

	transcripts := make(chan transcriptMsg, 64)
	opts := appOptions{
		Model:  chatModelFlag,
		Speech: true,
		Live:   true,
		Transcript: func(role chat.Role, text string) {
			select {
			case transcripts <- transcriptMsg{Role: role, Text: text}:
			default:
			}
		},
	}
	if cmd.Flags().Changed("search") {
		opts.Search = &chatSearch
	}
	if chatNoBrowser {
		opts.Opener = &opener.Printer{W: logWriter}
	} else {
		opts.Opener = &opener.Browser{}
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if chatFeedAddr != "" {
		stop, err := serveFeed(chatFeedAddr, a)
		if err != nil {
			return err
		}
		defer stop()
	}

	updates, cancel := watchTurns(a.engine)
	defer cancel()

	p := tea.NewProgram(NewChatModel(ctx, a, updates, transcripts, logWriter), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// serveFeed serves the transcript of a on addr until stop is called.
func serveFeed(addr string, a *app) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := feed.New(a.engine, a.gallery)
	hs := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gizchat: feed server", "error", err)
		}
	}()
	slog.Info("gizchat: feed listening", "addr", ln.Addr().String())
	return func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}, nil
}

func init() {
	chatCmd.Flags().StringVarP(&chatModelFlag, "model", "m", "", "model id (default is the remembered model)")
	chatCmd.Flags().BoolVar(&chatSearch, "search", false, "ground replies with web search")
	chatCmd.Flags().StringVar(&chatFeedAddr, "feed", "", "serve the transcript on this address, e.g. localhost:8090")
	chatCmd.Flags().BoolVar(&chatNoBrowser, "no-browser", false, "log links instead of opening them")
	rootCmd.AddCommand(chatCmd)
}
