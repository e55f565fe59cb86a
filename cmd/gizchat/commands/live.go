package commands

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/genx"
	"github.com/haivivi/gizchat/pkg/opener"
)

var liveNoBrowser bool

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Talk with the model in real time",
	Long: `Start a live voice conversation.

The microphone is recorded with audio.mic and replies are played with
audio.player. Tools work as in chat: asking for a song, a web search or a
picture runs the same actions. Press q to leave.`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func runLive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logWriter := cli.NewLogWriter(100)
	setupLogging(logWriter)

	transcripts := make(chan transcriptMsg, 64)
	opts := appOptions{
		Live: true,
		Transcript: func(role chat.Role, text string) {
			select {
			case transcripts <- transcriptMsg{Role: role, Text: text}:
			default:
			}
		},
	}
	if liveNoBrowser {
		opts.Opener = &opener.Printer{W: logWriter}
	} else {
		opts.Opener = &opener.Browser{}
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.live == nil {
		return errors.New("live mode needs Gemini with audio.player and audio.mic configured")
	}

	p := tea.NewProgram(NewLiveModel(ctx, a, transcripts, logWriter), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// LiveModel is the bubbletea model of the live command.
type LiveModel struct {
	ctx context.Context
	app *app

	transcripts <-chan transcriptMsg
	logWriter   *cli.LogWriter

	transcript []transcriptMsg
	logContent []string
	status     string

	styles   cli.Styles
	width    int
	height   int
	quitting bool
}

// LogMsg wraps log messages for bubbletea.
type LogMsg string

// TickMsg is sent periodically to update the UI.
type TickMsg time.Time

// NewLiveModel creates the live TUI for an opened app.
func NewLiveModel(ctx context.Context, a *app, transcripts <-chan transcriptMsg, logWriter *cli.LogWriter) LiveModel {
	return LiveModel{
		ctx:         ctx,
		app:         a,
		transcripts: transcripts,
		logWriter:   logWriter,
		status:      "connecting",
		styles:      cli.NewStyles(cli.DefaultTheme),
	}
}

// Init starts the live session.
func (m LiveModel) Init() tea.Cmd {
	e, ctx := m.app.engine, m.ctx
	return tea.Batch(
		func() tea.Msg {
			err := e.EnterLive(ctx)
			return LiveDoneMsg{Mode: e.Mode(), Err: err}
		},
		waitTranscript(m.transcripts),
		m.listenLogs(),
		tick(),
	)
}

func (m LiveModel) listenLogs() tea.Cmd {
	if m.logWriter == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-m.logWriter.Channel()
		if !ok {
			return nil
		}
		return LogMsg(line)
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.quitting = true
			e := m.app.engine
			return m, tea.Sequence(func() tea.Msg {
				e.ExitLive(context.Background())
				return nil
			}, tea.Quit)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case LiveDoneMsg:
		if msg.Err != nil {
			m.status = "error: " + msg.Err.Error()
		} else {
			m.status = msg.Mode.String()
		}

	case transcriptMsg:
		m.transcript = appendTranscript(m.transcript, msg)
		cmds = append(cmds, waitTranscript(m.transcripts))

	case LogMsg:
		m.logContent = append(m.logContent, string(msg))
		if len(m.logContent) > 50 {
			m.logContent = m.logContent[len(m.logContent)-50:]
		}
		cmds = append(cmds, m.listenLogs())

	case TickMsg:
		cmds = append(cmds, tick())
	}

	return m, tea.Batch(cmds...)
}

// appendTranscript merges fragments of the same speaker into one line.
func appendTranscript(lines []transcriptMsg, msg transcriptMsg) []transcriptMsg {
	if n := len(lines); n > 0 && lines[n-1].Role == msg.Role {
		lines[n-1].Text += msg.Text
		return lines
	}
	lines = append(lines, msg)
	if len(lines) > 100 {
		lines = lines[len(lines)-100:]
	}
	return lines
}

func (m LiveModel) transcriptLines() []string {
	out := make([]string, 0, len(m.transcript))
	for _, t := range m.transcript {
		who := m.styles.User.Render("You")
		if t.Role == chat.RoleModel {
			who = m.styles.Model.Render("Model")
		}
		out = append(out, who+"  "+t.Text)
	}
	return out
}

// View renders the UI.
func (m LiveModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	frame := cli.Frame{
		Styles: m.styles,
		Title:  "GIZCHAT // LIVE",
		Status: m.status + " · " + firstNonEmpty(m.app.live.Model, genx.DefaultGeminiLiveModel),
		Sections: []cli.Section{
			{Label: "🎙 Transcript", Content: m.transcriptLines},
			{Label: "📋 Log", Content: func() []string { return m.logContent }},
		},
		Help: "q/esc=leave live mode",
	}
	return frame.Render(m.width, m.height)
}

func init() {
	liveCmd.Flags().BoolVar(&liveNoBrowser, "no-browser", false, "log links instead of opening them")
	rootCmd.AddCommand(liveCmd)
}
