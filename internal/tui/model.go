// Package tui is an interactive terminal client for a running CivicPulse server.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/CivicPulse/civicpulse/internal/chat"
	"github.com/CivicPulse/civicpulse/internal/stream"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

// Command is a parsed slash command
type Command int

const (
	CmdNone Command = iota
	CmdNew
	CmdLocale
	CmdQuota
	CmdHelp
	CmdQuit
	CmdUnknown
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAI
	entrySystem
	entryError
)

type entry struct {
	kind entryKind
	text string
	nav  *types.Navigation
	at   time.Time
}

// frameMsg carries one stream frame into Update
type frameMsg struct {
	turn  int
	frame stream.Frame
}

// streamEndMsg is sent once the stream for a turn is over
type streamEndMsg struct {
	turn int
	err  error
}

type quotaMsg struct {
	text string
	err  error
}

type tickMsg time.Time

// Options configures a Model
type Options struct {
	Client *Client
	Server string
	Locale string
}

// Model is the bubbletea model for the chat client
type Model struct {
	viewport viewport.Model
	textarea textarea.Model

	client         *Client
	server         string
	locale         string
	conversationID string

	entries   []entry
	partial   string
	nav       *types.Navigation
	streaming bool
	turn      int
	frames    chan tea.Msg
	cancel    context.CancelFunc

	autocomplete *Autocomplete
	started      time.Time
	lastReply    time.Duration
	tokens       int
	lastMessage  string

	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates a model with a fresh conversation
func New(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask about MPs, bills, lobbying or spending..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	locale := opts.Locale
	if locale != "fr" {
		locale = "en"
	}

	return Model{
		textarea:       ta,
		client:         opts.Client,
		server:         opts.Server,
		locale:         locale,
		conversationID: uuid.NewString(),
		autocomplete:   &Autocomplete{},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.stop()
			m.quitting = true
			return m, tea.Quit

		case tea.KeyEsc:
			if m.autocomplete.IsActive() {
				m.autocomplete.Reset()
				return m, nil
			}
			if m.streaming {
				m.stop()
				return m, nil
			}

		case tea.KeyCtrlL:
			if !m.streaming {
				m.reset()
			}
			return m, nil

		case tea.KeyCtrlR:
			if !m.streaming && m.lastMessage != "" {
				return m.send(m.lastMessage)
			}
			return m, nil

		case tea.KeyUp:
			if m.autocomplete.IsActive() {
				m.autocomplete.Prev()
				return m, nil
			}

		case tea.KeyDown:
			if m.autocomplete.IsActive() {
				m.autocomplete.Next()
				return m, nil
			}

		case tea.KeyTab:
			if m.autocomplete.IsActive() {
				m.textarea.SetValue(m.autocomplete.Selected() + " ")
				m.textarea.CursorEnd()
				m.autocomplete.Reset()
				return m, nil
			}

		case tea.KeyEnter:
			if m.streaming {
				return m, nil
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				return m, nil
			}
			m.textarea.Reset()
			m.autocomplete.Reset()
			return m.handleInput(text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// header, input box, help line, borders
		chatHeight := max(m.height-2-5-1-2, 3)
		if !m.ready {
			m.viewport = viewport.New(m.width-2, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 2
			m.viewport.Height = chatHeight
		}
		m.textarea.SetWidth(m.width - 4)
		m.refresh()
		return m, nil

	case frameMsg:
		if msg.turn != m.turn || !m.streaming {
			return m, nil
		}
		m.applyFrame(msg.frame)
		m.refresh()
		return m, waitFor(m.frames)

	case streamEndMsg:
		if msg.turn != m.turn || !m.streaming {
			return m, nil
		}
		m.finish(msg.err)
		m.refresh()
		return m, nil

	case quotaMsg:
		if msg.err != nil {
			m.entries = append(m.entries, entry{kind: entryError, text: msg.err.Error(), at: time.Now()})
		} else {
			m.entries = append(m.entries, entry{kind: entrySystem, text: msg.text, at: time.Now()})
		}
		m.refresh()
		return m, nil

	case tickMsg:
		if m.streaming {
			m.refresh()
		}
		return m, tick()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.autocomplete.Update(m.textarea.Value())
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleInput(text string) (tea.Model, tea.Cmd) {
	cmd, arg := parseCommand(text)
	switch cmd {
	case CmdNone:
		return m.send(text)
	case CmdNew:
		m.reset()
		return m, nil
	case CmdLocale:
		switch arg {
		case "en", "fr":
			m.locale = arg
			m.system("Answers and links now use locale " + arg)
		default:
			m.system("Usage: /locale en|fr (current: " + m.locale + ")")
		}
	case CmdQuota:
		return m, m.fetchQuota()
	case CmdHelp:
		m.system(helpText())
	case CmdQuit:
		m.stop()
		m.quitting = true
		return m, tea.Quit
	default:
		m.system("Unknown command. Type /help for available commands.")
	}
	m.refresh()
	return m, nil
}

// send starts a turn; frames arrive through m.frames one Update at a time
func (m Model) send(text string) (tea.Model, tea.Cmd) {
	m.lastMessage = text
	m.entries = append(m.entries, entry{kind: entryUser, text: text, at: time.Now()})
	m.streaming = true
	m.partial = ""
	m.nav = nil
	m.started = time.Now()
	m.turn++
	turn := m.turn

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan tea.Msg, 16)
	m.cancel = cancel
	m.frames = ch

	req := chat.Request{
		ConversationID: m.conversationID,
		Message:        text,
		Context:        &types.PageContext{Type: types.PageGeneral, Locale: m.locale},
	}
	client := m.client
	go func() {
		defer close(ch)
		err := client.Chat(ctx, req, func(f stream.Frame) {
			select {
			case ch <- frameMsg{turn: turn, frame: f}:
			case <-ctx.Done():
			}
		})
		select {
		case ch <- streamEndMsg{turn: turn, err: err}:
		case <-ctx.Done():
		}
	}()

	m.refresh()
	return m, waitFor(ch)
}

func waitFor(ch <-chan tea.Msg) tea.Cmd {
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

func (m *Model) applyFrame(f stream.Frame) {
	switch {
	case f.Error != "":
		m.entries = append(m.entries, entry{kind: entryError, text: f.Error, at: time.Now()})
	case f.Done:
		if f.Message != nil {
			m.tokens += f.Message.TotalTokens
			if m.partial == "" {
				m.partial = f.Message.Content
			}
		}
	default:
		m.partial += f.Content
		if f.Navigation != nil {
			m.nav = f.Navigation
		}
	}
}

func (m *Model) finish(err error) {
	if m.partial != "" {
		m.entries = append(m.entries, entry{kind: entryAI, text: m.partial, nav: m.nav, at: time.Now()})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.entries = append(m.entries, entry{kind: entryError, text: err.Error(), at: time.Now()})
	}
	m.partial = ""
	m.nav = nil
	m.streaming = false
	m.frames = nil
	m.lastReply = time.Since(m.started)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// stop abandons the running turn; the server still stores the answer
func (m *Model) stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.finish(nil)
	m.system("Cancelled")
	m.refresh()
}

func (m *Model) reset() {
	m.conversationID = uuid.NewString()
	m.entries = nil
	m.tokens = 0
	m.lastMessage = ""
	m.system("Started new conversation")
	m.refresh()
}

func (m *Model) system(text string) {
	m.entries = append(m.entries, entry{kind: entrySystem, text: text, at: time.Now()})
}

func (m Model) fetchQuota() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		d, err := client.Quota(context.Background())
		if err != nil {
			return quotaMsg{err: err}
		}
		switch {
		case d.Unlimited:
			return quotaMsg{text: "Unlimited questions"}
		case d.ResetsAt.IsZero():
			return quotaMsg{text: fmt.Sprintf("Used %d of %d free questions", d.Used, d.Limit)}
		default:
			return quotaMsg{text: fmt.Sprintf("Used %d of %d free questions, resets %s",
				d.Used, d.Limit, d.ResetsAt.Local().Format("Jan 2 15:04"))}
		}
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(renderHeader(m.server, m.locale, m.tokens, m.lastReply, m.width))
	b.WriteString("\n")
	b.WriteString(chatBorderStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	if m.autocomplete.IsActive() {
		b.WriteString(m.autocomplete.View())
		b.WriteString("\n")
	}
	b.WriteString(inputBorderStyle.Width(m.width - 2).Render(m.textarea.View()))
	b.WriteString("\n")
	b.WriteString(formatKeyboardShortcuts())
	return b.String()
}

func (m Model) renderMessages() string {
	if len(m.entries) == 0 && !m.streaming {
		return systemStyle.Render("Welcome to CivicPulse! Ask a question about Canadian civic data.\n\nCommands: /new, /locale, /quota, /help, /quit")
	}

	width := m.viewport.Width - 4
	var lines []string
	for _, e := range m.entries {
		lines = append(lines, formatEntry(e, width), "")
	}

	if m.streaming {
		if m.partial == "" {
			lines = append(lines, formatThinking(time.Since(m.started)))
		} else {
			lines = append(lines, formatAIMessage(m.partial, width))
		}
	}
	return strings.Join(lines, "\n")
}

func formatEntry(e entry, width int) string {
	var out string
	switch e.kind {
	case entryUser:
		out = wrapText(formatUserMessage(e.text), width)
	case entryAI:
		out = formatAIMessage(e.text, width)
		if nav := formatNavigation(e.nav); nav != "" {
			out += "\n" + nav
		}
	case entryError:
		return formatError(e.text)
	default:
		return formatSystemMessage(e.text)
	}
	if !e.at.IsZero() {
		out += "  " + formatTimestamp(e.at)
	}
	return out
}

func parseCommand(input string) (Command, string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return CmdNone, ""
	}

	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/new":
		return CmdNew, arg
	case "/locale":
		return CmdLocale, strings.ToLower(arg)
	case "/quota":
		return CmdQuota, arg
	case "/help":
		return CmdHelp, arg
	case "/quit", "/exit", "/q":
		return CmdQuit, arg
	default:
		return CmdUnknown, arg
	}
}

func helpText() string {
	return `Available commands:
  /new           Start a new conversation
  /locale en|fr  Language for answers and page links
  /quota         Show remaining free questions
  /help          Show this help message
  /quit          Exit

Keyboard shortcuts:
  Enter   Send message
  Esc     Cancel the running answer
  Ctrl+L  New conversation
  Ctrl+R  Ask the last question again
  Ctrl+C  Quit
  Tab     Accept autocomplete`
}

// wrapText wraps on word boundaries to width display cells
func wrapText(text string, width int) string {
	if width <= 0 {
		width = 80
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if lipgloss.Width(current+" "+word) <= width {
				current += " " + word
				continue
			}
			result.WriteString(current)
			result.WriteString("\n")
			current = word
		}
		result.WriteString(current)
	}
	return result.String()
}

// Run starts the client in the alternate screen
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
