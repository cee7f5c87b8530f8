package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/session"
)

// Controller is the part of *session.Controller the chat view drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Abort() error
	SubmitText(ctx context.Context, prompt string) error
	Reset() error
	State() session.State
}

type KeyMap struct {
	Toggle key.Binding
	Abort  key.Binding
	Submit key.Binding
	Copy   key.Binding
	Reset  key.Binding
	Quit   key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Toggle: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "record/stop")),
		Abort:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel recording")),
		Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Copy:   key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy reply")),
		Reset:  key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear chat")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k KeyMap) help() string {
	parts := []string{}
	for _, b := range []key.Binding{k.Toggle, k.Abort, k.Submit, k.Copy, k.Reset, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// turnDoneMsg is returned by the commands that call into the controller.
type turnDoneMsg struct {
	action string
	err    error
}

type statusMsg string

// Model is the chat view. It mirrors the conversation log from router
// events and forwards key presses to the controller.
type Model struct {
	ctx        context.Context
	controller Controller
	keys       KeyMap
	title      string

	messages []conversation.Message
	state    session.State
	status   string

	spinner  bspinner.Model
	viewport viewport.Model
	input    textinput.Model
	renderer *Renderer

	copyText func(string) error
	ready    bool
}

type ModelOption func(*Model)

func WithTitle(title string) ModelOption {
	return func(m *Model) {
		m.title = title
	}
}

// WithMarkdown toggles glamour rendering of bot replies.
func WithMarkdown(enabled bool) ModelOption {
	return func(m *Model) {
		m.renderer.Markdown = enabled
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) ModelOption {
	return func(m *Model) {
		m.copyText = write
	}
}

// NewModel seeds the view with the messages already in the log.
func NewModel(ctx context.Context, c Controller, initial []conversation.Message, options ...ModelOption) Model {
	sp := bspinner.New()
	sp.Spinner = bspinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	in := textinput.New()
	in.Placeholder = "Type a message or press ctrl+r to talk"
	in.Prompt = "> "
	in.CharLimit = 2000
	in.Focus()

	vp := viewport.New(80, 20)

	m := Model{
		ctx:        ctx,
		controller: c,
		keys:       DefaultKeyMap(),
		title:      "VoiceBot",
		messages:   append([]conversation.Message(nil), initial...),
		state:      c.State(),
		spinner:    sp,
		viewport:   vp,
		input:      in,
		renderer:   NewRenderer(true, 80),
		copyText:   clipboard.WriteAll,
	}
	for _, o := range options {
		o(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Messages returns the entries currently shown.
func (m Model) Messages() []conversation.Message {
	return append([]conversation.Message(nil), m.messages...)
}

func (m Model) State() session.State {
	return m.state
}

func (m Model) Status() string {
	return m.status
}

func (m *Model) upsert(msg conversation.Message) {
	i := sort.Search(len(m.messages), func(i int) bool { return m.messages[i].Seq >= msg.Seq })
	if i < len(m.messages) && m.messages[i].Seq == msg.Seq {
		m.messages[i] = msg
		return
	}
	m.messages = append(m.messages, conversation.Message{})
	copy(m.messages[i+1:], m.messages[i:])
	m.messages[i] = msg
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom() || !m.ready
	m.viewport.SetContent(m.renderer.Transcript(m.messages))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) run(action string, f func() error) tea.Cmd {
	return func() tea.Msg {
		return turnDoneMsg{action: action, err: f()}
	}
}

func (m Model) lastReply() (string, bool) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == conversation.RoleBot {
			return m.messages[i].Text, true
		}
	}
	return "", false
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-5, 3)
		m.input.Width = max(ev.Width-4, 10)
		m.renderer.Width = ev.Width
		m.refresh()
		return m, nil

	case MessageAppendedMsg:
		m.upsert(ev.Message)
		m.refresh()
		return m, nil
	case MessageResolvedMsg:
		m.upsert(ev.Message)
		m.refresh()
		return m, nil
	case LogResetMsg:
		m.messages = nil
		m.refresh()
		return m, nil
	case StateChangedMsg:
		m.state = ev.State
		if ev.State.Busy() {
			return m, m.spinner.Tick
		}
		return m, nil

	case turnDoneMsg:
		switch {
		case ev.err == nil:
		case errors.Is(ev.err, session.ErrBusy):
			m.status = "Busy, wait for the current turn to finish."
		case errors.Is(ev.err, session.ErrNotRecording):
			m.status = "Not recording."
		case session.KindOf(ev.err) != "":
			// already written to the conversation
			log.Debug().Err(ev.err).Str("action", ev.action).Msg("turn ended with error")
		default:
			log.Warn().Err(ev.err).Str("action", ev.action).Msg("turn failed")
			m.status = ev.err.Error()
		}
		return m, nil

	case statusMsg:
		m.status = string(ev)
		return m, nil

	case bspinner.TickMsg:
		if !m.state.Busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(ev, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(ev, m.keys.Toggle):
			m.status = ""
			return m, m.run("toggle", func() error { return m.controller.Toggle(m.ctx) })
		case key.Matches(ev, m.keys.Abort):
			m.status = ""
			return m, m.run("abort", m.controller.Abort)
		case key.Matches(ev, m.keys.Reset):
			m.status = ""
			return m, m.run("reset", m.controller.Reset)
		case key.Matches(ev, m.keys.Copy):
			text, ok := m.lastReply()
			if !ok {
				m.status = "Nothing to copy yet."
				return m, nil
			}
			write := m.copyText
			return m, func() tea.Msg {
				if err := write(text); err != nil {
					return statusMsg(fmt.Sprintf("Copy failed: %v", err))
				}
				return statusMsg("Copied reply to clipboard.")
			}
		case key.Matches(ev, m.keys.Submit):
			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" {
				return m, nil
			}
			m.input.Reset()
			m.status = ""
			return m, m.run("submit", func() error { return m.controller.SubmitText(m.ctx, prompt) })
		case ev.Type == tea.KeyPgUp || ev.Type == tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(ev)
			return m, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) stateLine() string {
	switch m.state {
	case session.StateRecording:
		return recordingStyle.Render("● Recording") + " " + helpStyle.Render("(ctrl+r to send, esc to cancel)")
	case session.StateUploading:
		return statusStyle.Render("Uploading… ") + m.spinner.View()
	case session.StateAwaitingResponse:
		return statusStyle.Render("Thinking… ") + m.spinner.View()
	case session.StatePlaying:
		return statusStyle.Render("♪ Playing reply")
	default:
		return statusStyle.Render("Ready")
	}
}

func (m Model) View() string {
	header := headerStyle.Render(m.title) + "  " + m.stateLine()
	if m.status != "" {
		header += "  " + helpStyle.Render(m.status)
	}
	return header + "\n" +
		m.viewport.View() + "\n" +
		m.input.View() + "\n" +
		helpStyle.Render(m.keys.help())
}
