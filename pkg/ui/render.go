package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userLabelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	userTextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	botLabelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	placeholderStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("246"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	recordingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Renderer turns log messages into styled terminal text. Bot messages are
// rendered as markdown when Markdown is set.
type Renderer struct {
	Markdown bool
	Width    int

	md      *glamour.TermRenderer
	mdWidth int
}

func NewRenderer(markdown bool, width int) *Renderer {
	return &Renderer{Markdown: markdown, Width: width}
}

func (r *Renderer) markdown(text string) string {
	if !r.Markdown {
		return text
	}
	width := r.Width
	if width <= 0 {
		width = 80
	}
	if r.md == nil || r.mdWidth != width {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width-4),
		)
		if err != nil {
			log.Debug().Err(err).Msg("markdown renderer unavailable")
			r.Markdown = false
			return text
		}
		r.md, r.mdWidth = md, width
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// Message renders a single entry.
func (r *Renderer) Message(m conversation.Message) string {
	switch m.Role {
	case conversation.RoleUser:
		return userLabelStyle.Render("You: ") + userTextStyle.Render(m.Text)
	case conversation.RolePlaceholder:
		return botLabelStyle.Render("Bot: ") + placeholderStyle.Render(m.Text)
	default:
		body := r.markdown(m.Text)
		if strings.Contains(body, "\n") {
			return botLabelStyle.Render("Bot:") + "\n" + body
		}
		return botLabelStyle.Render("Bot: ") + strings.TrimSpace(body)
	}
}

// Transcript renders messages separated by blank lines.
func (r *Renderer) Transcript(msgs []conversation.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.Message(m))
	}
	return strings.Join(parts, "\n\n")
}

// PlainTranscript renders "role: text" lines for pipes and files.
func PlainTranscript(msgs []conversation.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
