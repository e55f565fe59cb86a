package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/gizchat/pkg/chat"
)

// Theme defines the color scheme for the TUI.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Model   lipgloss.Color // Model turn accent
	Dim     lipgloss.Color // Dimmed/help text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Model:   lipgloss.Color("#58a6ff"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	User   lipgloss.Style
	Model  lipgloss.Style
	Meta   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		User:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Model:  lipgloss.NewStyle().Bold(true).Foreground(t.Model),
		Meta:   lipgloss.NewStyle().Foreground(t.Dim).Italic(true),
	}
}

// RenderTurns renders a transcript for a terminal of the given width.
func (s Styles) RenderTurns(turns []chat.Turn, width int) string {
	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		blocks = append(blocks, s.RenderTurn(t, width))
	}
	return strings.Join(blocks, "\n\n")
}

// RenderTurn renders one turn: a header, the wrapped text and any
// attachments (music, images, sources).
func (s Styles) RenderTurn(t chat.Turn, width int) string {
	header := s.User.Render("You")
	if t.Role == chat.RoleModel {
		header = s.Model.Render("Model")
	}
	header += " " + s.Help.Render(FormatClock(t.Timestamp))

	body := t.Text
	if t.Streaming {
		body += "▍"
	}
	if width > 4 {
		body = lipgloss.NewStyle().Width(width - 2).Render(body)
	}

	lines := []string{header, body}
	if m := t.Music; m != nil {
		lines = append(lines, s.Meta.Render(fmt.Sprintf("♪ %s by %s", m.Title, m.Artist)))
	}
	for _, img := range t.Images {
		loc := img.Path
		if loc == "" {
			loc = FormatBytes(int64(len(img.Data))) + " not archived"
		}
		lines = append(lines, s.Meta.Render(fmt.Sprintf("[image %s] %s", img.MIMEType, loc)))
	}
	for i, g := range t.Grounding {
		src := g.SourceURI
		if g.SourceTitle != "" {
			src = g.SourceTitle + "  " + g.SourceURI
		}
		lines = append(lines, s.Meta.Render(fmt.Sprintf("[%d] %s", i+1, src)))
	}
	return strings.Join(lines, "\n")
}

// Section represents a labeled section with content.
type Section struct {
	Label   string
	Content func() []string // Dynamic content getter
}

// Frame renders a complete TUI frame with title, sections, and help text.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render renders the frame to a string.
func (f Frame) Render(width, height int) string {
	if width == 0 || height == 0 {
		return "Loading..."
	}

	bc := f.Styles.Border
	maxContentWidth := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	// │ title [status]    │
	title := f.Styles.Title.Render(f.Title)
	status := f.Styles.Help.Render("[" + f.Status + "]")
	padding := max(0, width-5-lipgloss.Width(title)-lipgloss.Width(status))
	lines = append(lines, bc.Render("│")+" "+title+" "+status+
		strings.Repeat(" ", padding)+" "+bc.Render("│"))
	lines = append(lines, bc.Render("│")+strings.Repeat(" ", width-2)+bc.Render("│"))

	numSections := max(len(f.Sections), 1)
	// top, title, spacer, one label per section, bottom, help
	sectionHeight := max((height-5-numSections)/numSections, 2)
	for _, sec := range f.Sections {
		lines = append(lines, f.renderSection(bc, sec.Label, sec.Content(), sectionHeight, width, maxContentWidth)...)
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	lines = append(lines, f.Styles.Help.Render(f.Help))
	return strings.Join(lines, "\n")
}

// renderSection renders a single section with embedded label, showing the
// last height lines of content.
func (f Frame) renderSection(bc lipgloss.Style, label string, content []string, height, width, maxContentWidth int) []string {
	var lines []string

	labelText := f.Styles.Label.Render(label)
	padding := max(0, width-3-lipgloss.Width(labelText))
	lines = append(lines, bc.Render("├")+bc.Render("─")+labelText+
		bc.Render(strings.Repeat("─", padding))+bc.Render("┤"))

	start := max(0, len(content)-height)
	for i := range height {
		text := ""
		if idx := start + i; idx < len(content) {
			text = content[idx]
		}
		if maxContentWidth > 1 && lipgloss.Width(text) > maxContentWidth {
			text = truncateString(text, maxContentWidth-1) + "…"
		}
		lines = append(lines, bc.Render("│")+" "+text+
			strings.Repeat(" ", max(0, maxContentWidth-lipgloss.Width(text)))+" "+bc.Render("│"))
	}
	return lines
}

// truncateString truncates s to the given display width.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	current := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if current+w > width {
			return string(runes[:i])
		}
		current += w
	}
	return s
}
