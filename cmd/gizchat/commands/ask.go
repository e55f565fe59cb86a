package commands

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/opener"
)

var (
	askModel    string
	askSearch   bool
	askPreset   string
	askImages   []string
	askSpeak    bool
	askOpen     bool
	askSpeakFor time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a message and print the reply",
	Long: `Send one message, or every message of a preset, and print the transcript.

With -o text only the last reply is printed, followed by the links the
model opened. Links are printed rather than opened unless --open is set.

Examples:
  gizchat ask "what is the capital of Peru"
  gizchat ask --search "latest Go release" -o json --jq '.[-1].grounding'
  gizchat ask -f session.yaml
  gizchat ask --image photo.jpg "what is in this picture"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var messages []string
	opts := appOptions{Model: askModel, Speech: askSpeak}
	if cmd.Flags().Changed("search") {
		opts.Search = &askSearch
	}
	if askPreset != "" {
		p, err := cli.LoadPreset(askPreset)
		if err != nil {
			return err
		}
		if opts.Model == "" {
			opts.Model = p.Model
		}
		if opts.Search == nil {
			opts.Search = p.Search
		}
		opts.System = p.System
		messages = append(messages, p.Messages...)
	}
	if len(args) == 1 {
		messages = append(messages, args[0])
	}
	if len(messages) == 0 {
		return errors.New("nothing to send; pass a message or a preset with -f")
	}

	images, err := loadImages(askImages)
	if err != nil {
		return err
	}

	printer := &opener.Printer{}
	if askOpen {
		opts.Opener = &opener.Browser{}
	} else {
		opts.Opener = printer
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	for i, msg := range messages {
		// images go with the first message only
		var imgs []chat.Image
		if i == 0 {
			imgs = images
		}
		sctx, cancel := a.sendContext(ctx)
		err := a.engine.SendMessage(sctx, msg, imgs)
		cancel()
		if err != nil {
			return err
		}
	}

	turns := a.engine.Turns()
	if len(turns) == 0 {
		return errors.New("nothing was sent")
	}
	if outputFormat != string(cli.FormatText) || jqQuery != "" {
		if err := output(cmd, turns); err != nil {
			return err
		}
	} else {
		last := turns[len(turns)-1]
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(last.Text))
		for _, u := range printer.URLs() {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
	}

	if askSpeak && a.speaker != nil {
		a.speaker.Speak(turns[len(turns)-1].Text, a.engine.SpeechRate())
		done := make(chan struct{})
		go func() {
			a.speaker.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(askSpeakFor):
			a.speaker.Stop()
		case <-ctx.Done():
			a.speaker.Stop()
		}
	}
	return nil
}

// loadImages reads image attachments from disk.
func loadImages(paths []string) ([]chat.Image, error) {
	var out []chat.Image
	for _, p := range paths {
		img, err := loadImage(p)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func loadImage(path string) (chat.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Image{}, fmt.Errorf("read image: %w", err)
	}
	mimeType := imageType(path, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return chat.Image{}, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return chat.Image{MIMEType: mimeType, Data: data}, nil
}

// imageType guesses the MIME type from the extension, then from content.
func imageType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return http.DetectContentType(data)
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model id, optionally prefixed by provider (gemini/..., openai/...)")
	askCmd.Flags().BoolVar(&askSearch, "search", false, "ground the reply with web search")
	askCmd.Flags().StringVarP(&askPreset, "file", "f", "", "session preset (YAML or JSON, - for stdin)")
	askCmd.Flags().StringArrayVar(&askImages, "image", nil, "attach an image (repeatable)")
	askCmd.Flags().BoolVar(&askSpeak, "speak", false, "read the reply aloud")
	askCmd.Flags().BoolVar(&askOpen, "open", false, "open links in the browser instead of printing them")
	askCmd.Flags().DurationVar(&askSpeakFor, "speak-timeout", 2*time.Minute, "maximum time to wait for speech")
	rootCmd.AddCommand(askCmd)
}
