package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/gizchat/pkg/chat"
	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/prefs"
)

// Speech rates accepted by /rate.
const (
	minSpeechRate = 0.25
	maxSpeechRate = 4
)

// ChatModel is the bubbletea model of the chat command.
type ChatModel struct {
	ctx context.Context
	app *app

	updates     <-chan []chat.Turn
	transcripts <-chan transcriptMsg
	logWriter   *cli.LogWriter

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	styles   cli.Styles

	turns    []chat.Turn
	pending  []chat.Image
	status   string
	lastLog  string
	sending  bool
	width    int
	height   int
	quitting bool
}

// TurnsMsg carries a transcript snapshot.
type TurnsMsg []chat.Turn

// SendDoneMsg reports the end of a send.
type SendDoneMsg struct{ Err error }

// LiveDoneMsg reports the end of a mode switch.
type LiveDoneMsg struct {
	Mode chat.Mode
	Err  error
}

type transcriptMsg struct {
	Role chat.Role
	Text string
}

// NewChatModel creates the chat TUI for an opened app. updates must be fed
// by watchTurns.
func NewChatModel(ctx context.Context, a *app, updates <-chan []chat.Turn, transcripts <-chan transcriptMsg, logWriter *cli.LogWriter) ChatModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type a message, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(cli.DefaultTheme.Primary)

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return ChatModel{
		ctx:         ctx,
		app:         a,
		updates:     updates,
		transcripts: transcripts,
		logWriter:   logWriter,
		input:       input,
		timeline:    timeline,
		spinner:     sp,
		styles:      cli.NewStyles(cli.DefaultTheme),
		turns:       a.engine.Turns(),
		status:      "ready",
	}
}

// watchTurns forwards engine snapshots to a channel that keeps only the
// latest one.
func watchTurns(e *chat.Engine) (<-chan []chat.Turn, func()) {
	ch := make(chan []chat.Turn, 1)
	cancel := e.Watch(func(turns []chat.Turn) {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- turns:
		default:
		}
	})
	return ch, cancel
}

func waitTurns(ch <-chan []chat.Turn) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		turns, ok := <-ch
		if !ok {
			return nil
		}
		return TurnsMsg(turns)
	}
}

func waitTranscript(ch <-chan transcriptMsg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m ChatModel) listenLogs() tea.Cmd {
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

// Init initializes the model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitTurns(m.updates),
		waitTranscript(m.transcripts),
		m.listenLogs(),
	)
}

// Update handles messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.app.engine.StopSpeaking()
			m.status = "speech stopped"
			return m, nil
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" && len(m.pending) == 0 {
				return m, nil
			}
			if c, ok := parseSlash(line); ok {
				return m.execSlash(c)
			}
			return m.send(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case TurnsMsg:
		m.turns = msg
		m.refresh()
		cmds = append(cmds, waitTurns(m.updates))

	case transcriptMsg:
		m.status = fmt.Sprintf("%s: %s", msg.Role, msg.Text)
		cmds = append(cmds, waitTranscript(m.transcripts))

	case SendDoneMsg:
		m.sending = false
		switch {
		case errors.Is(msg.Err, chat.ErrBusy):
			m.status = "busy: wait for the reply or leave live mode"
		case msg.Err != nil:
			m.status = "error: " + msg.Err.Error()
		default:
			m.status = "ready"
		}

	case LiveDoneMsg:
		if msg.Err != nil {
			m.status = "live: " + msg.Err.Error()
		} else {
			m.status = "mode: " + msg.Mode.String()
		}

	case LogMsg:
		m.lastLog = string(msg)
		cmds = append(cmds, m.listenLogs())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m ChatModel) send(text string) (tea.Model, tea.Cmd) {
	if m.sending {
		m.status = "busy: wait for the reply"
		return m, nil
	}
	m.sending = true
	m.status = "sending"
	images := m.pending
	m.pending = nil
	a, ctx := m.app, m.ctx
	return m, func() tea.Msg {
		sctx, cancel := a.sendContext(ctx)
		defer cancel()
		return SendDoneMsg{Err: a.engine.SendMessage(sctx, text, images)}
	}
}

// slashCommand is a parsed "/name arg" line.
type slashCommand struct {
	Name string
	Arg  string
}

// parseSlash parses a line starting with "/". A lone "/" is not a command.
func parseSlash(line string) (slashCommand, bool) {
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return slashCommand{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return slashCommand{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

// parseSwitch parses on/off style arguments.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// parseRate parses a speech rate such as "1.5" or "1.5x".
func parseRate(s string) (float64, error) {
	rate, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(s), "x"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	if rate < minSpeechRate || rate > maxSpeechRate {
		return 0, fmt.Errorf("rate must be between %gx and %gx", float64(minSpeechRate), float64(maxSpeechRate))
	}
	return rate, nil
}

const chatHelp = "/new  /model [id]  /search on|off  /speak on|off  /rate 1.25  /stop  /live  /attach path  /quit"

func (m ChatModel) execSlash(c slashCommand) (tea.Model, tea.Cmd) {
	e := m.app.engine
	switch c.Name {
	case "quit", "exit", "q":
		m.quitting = true
		return m, tea.Quit

	case "help", "?":
		m.status = chatHelp

	case "new":
		if err := m.reconfigure(e.NewChat); err != nil {
			m.status = err.Error()
			break
		}
		m.status = "new chat"

	case "model":
		if c.Arg == "" {
			m.status = fmt.Sprintf("model %s (providers: %s)", e.Config().Model, strings.Join(m.app.mux.Providers(), ", "))
			break
		}
		if _, _, err := m.app.mux.Route(c.Arg); err != nil {
			m.status = err.Error()
			break
		}
		if err := m.reconfigure(func() error { return e.ChangeModel(c.Arg) }); err != nil {
			m.status = err.Error()
			break
		}
		m.app.remember(m.ctx, func(p *prefs.Prefs) { p.Model = c.Arg })
		m.status = "model " + c.Arg

	case "search":
		on, err := parseSwitch(c.Arg)
		if err != nil {
			m.status = err.Error()
			break
		}
		if err := m.reconfigure(func() error { return e.ToggleSearch(on) }); err != nil {
			m.status = err.Error()
			break
		}
		m.app.remember(m.ctx, func(p *prefs.Prefs) { p.UseSearch = on })
		m.status = "search " + onOff(on)

	case "speak":
		on, err := parseSwitch(c.Arg)
		if err != nil {
			m.status = err.Error()
			break
		}
		if on && m.app.speaker == nil {
			m.status = "speech is not configured; set audio.player"
			break
		}
		e.SetAutoSpeak(on)
		m.app.remember(m.ctx, func(p *prefs.Prefs) { p.AutoSpeak = on })
		m.status = "speak " + onOff(on)

	case "rate":
		rate, err := parseRate(c.Arg)
		if err != nil {
			m.status = err.Error()
			break
		}
		e.SetSpeechRate(rate)
		m.app.remember(m.ctx, func(p *prefs.Prefs) { p.SpeechRate = rate })
		m.status = "rate " + cli.FormatRate(rate)

	case "stop":
		e.StopSpeaking()
		m.status = "speech stopped"

	case "live":
		ctx := m.ctx
		m.status = "switching mode"
		return m, func() tea.Msg {
			if e.Mode() == chat.ModeLive {
				err := e.ExitLive(ctx)
				return LiveDoneMsg{Mode: e.Mode(), Err: err}
			}
			err := e.EnterLive(ctx)
			return LiveDoneMsg{Mode: e.Mode(), Err: err}
		}

	case "attach":
		if c.Arg == "" {
			m.pending = nil
			m.status = "attachments cleared"
			break
		}
		img, err := loadImage(c.Arg)
		if err != nil {
			m.status = err.Error()
			break
		}
		m.pending = append(m.pending, img)
		m.status = fmt.Sprintf("%d image(s) attached to the next message", len(m.pending))

	default:
		m.status = fmt.Sprintf("unknown command /%s; %s", c.Name, chatHelp)
	}
	return m, nil
}

// errBusyChat is shown when the session cannot be reset right now.
var errBusyChat = errors.New("busy: wait for the reply or leave live mode")

// reconfigure runs a session reset unless a reply is streaming or live mode
// is active.
func (m ChatModel) reconfigure(reset func() error) error {
	if m.sending {
		return errBusyChat
	}
	if err := reset(); err != nil {
		if errors.Is(err, chat.ErrBusy) {
			return errBusyChat
		}
		return err
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (m *ChatModel) layout() {
	// header, blank, status, input, help
	m.timeline.Width = m.width
	m.timeline.Height = max(m.height-5, 1)
	m.input.Width = max(m.width-4, 10)
	m.refresh()
}

func (m *ChatModel) refresh() {
	follow := m.timeline.AtBottom() || m.timeline.TotalLineCount() == 0
	m.timeline.SetContent(m.styles.RenderTurns(m.turns, m.width))
	if follow {
		m.timeline.GotoBottom()
	}
}

func (m ChatModel) header() string {
	cfg := m.app.engine.Config()
	parts := []string{cfg.Model, "search " + onOff(cfg.UseSearch), m.app.engine.Mode().String()}
	if m.app.speaker != nil {
		parts = append(parts, "speak "+onOff(m.app.engine.AutoSpeak())+" "+cli.FormatRate(m.app.engine.SpeechRate()))
	}
	return m.styles.Title.Render("GIZCHAT") + " " + m.styles.Help.Render("["+strings.Join(parts, " · ")+"]")
}

// View renders the UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	status := m.status
	if m.sending || m.app.engine.Streaming() {
		status = m.spinner.View() + " " + status
	}
	if len(m.pending) > 0 {
		status += fmt.Sprintf("  [%d attached]", len(m.pending))
	}
	help := "enter=send  esc=stop speech  pgup/pgdn=scroll  ctrl+c=quit"
	if m.lastLog != "" {
		help = truncateLine(m.lastLog, m.width)
	}

	return strings.Join([]string{
		m.header(),
		m.timeline.View(),
		"",
		m.styles.Meta.Render(truncateLine(status, m.width)),
		m.input.View(),
		m.styles.Help.Render(help),
	}, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > width-1 {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
