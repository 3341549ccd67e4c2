package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/starshop/starchat/internal/chat"
	"github.com/starshop/starchat/internal/markdown"
	"github.com/starshop/starchat/internal/models"
)

// chromeHeight is the number of lines around the message viewport: header,
// typing line, input and hint.
const chromeHeight = 5

// Theme holds the color scheme for the chat window.
type Theme struct {
	Status lipgloss.Color
	Own    lipgloss.Color
	Staff  lipgloss.Color
	AI     lipgloss.Color
	Error  lipgloss.Color
	Hint   lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status: lipgloss.Color("#5FAFD7"), // light blue
	Own:    lipgloss.Color("#00D787"), // green
	Staff:  lipgloss.Color("#FFAF00"), // amber
	AI:     lipgloss.Color("#AF87FF"), // violet
	Error:  lipgloss.Color("#FF005F"), // red
	Hint:   lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status).Bold(true)
}

func (t Theme) senderStyle(e chat.Entry) lipgloss.Style {
	color := t.Staff
	switch {
	case e.Own:
		color = t.Own
	case e.Message.SenderID == models.SenderSystem:
		color = t.Error
	case e.Message.IsAIGenerated || e.Message.SenderID == models.SenderAI:
		color = t.AI
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// snapshotMsg carries a session state change into the UI loop.
type snapshotMsg chat.Snapshot

// rendered caches the terminal rendering of one entry.
type rendered struct {
	content string
	out     string
}

// chatModel is the bubbletea model for the chat window.
type chatModel struct {
	session  *chat.Session
	userName string
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	theme    Theme
	snap     chat.Snapshot
	cache    map[string]rendered
	scrolled uint64
	width    int
	height   int
	ready    bool
	quitting bool
}

func newChatModel(s *chat.Session, userName string) chatModel {
	input := textinput.New()
	input.Placeholder = "Nhập tin nhắn..."
	input.CharLimit = 2000
	input.Focus()

	return chatModel{
		session:  s,
		userName: userName,
		input:    input,
		theme:    defaultTheme,
		snap:     s.Snapshot(),
		cache:    make(map[string]rendered),
	}
}

// Init returns the initial command.
func (m chatModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		height := max(msg.Height-chromeHeight, 3)
		if !m.ready {
			m.viewport = viewport.New(viewport.WithWidth(msg.Width), viewport.WithHeight(height))
			m.ready = true
		} else {
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(height)
		}
		m.input.SetWidth(max(msg.Width-4, 10))
		m.renderer = newRenderer(max(msg.Width-4, 20))
		clear(m.cache)
		m.refresh(true)
		return m, nil

	case snapshotMsg:
		snap := chat.Snapshot(msg)
		if snap.Version < m.snap.Version {
			return m, nil
		}
		m.snap = snap
		m.refresh(snap.ScrollSeq != m.scrolled)
		m.scrolled = snap.ScrollSeq
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			return m, m.do(func() { m.session.Send(text) })
		case "ctrl+r":
			return m, m.do(m.session.Reload)
		case "ctrl+t":
			return m, m.do(m.session.Toggle)
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != before && v != "" {
			return m, tea.Batch(cmd, m.do(m.session.Typing))
		}
		return m, cmd
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// do runs a session call off the UI loop. Session calls notify observers,
// and observers send back into this loop.
func (m chatModel) do(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

// View renders the chat window.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	if m.quitting {
		return m.theme.hintStyle().Render("Đã thoát chat.") + "\n"
	}
	if !m.ready {
		return "Loading chat...\n"
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	if !m.snap.Open {
		b.WriteString(m.theme.hintStyle().Render("Chat minimized. Press ctrl+t to open."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if t := m.snap.Typing; t.Visible {
		b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("%s is typing...", t.Name)))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.theme.hintStyle().Render("enter send • ctrl+r reload • ctrl+t minimize • esc quit"))
	return b.String()
}

func (m chatModel) header() string {
	title := m.theme.statusStyle().Render("StarShop Support")
	parts := []string{title, string(m.snap.Status)}
	if id := m.snap.ConversationID; id != "" {
		parts = append(parts, "#"+id)
	}
	if m.userName != "" {
		parts = append(parts, m.userName)
	}
	if n := m.snap.Unread; n > 0 && !m.snap.Open {
		parts = append(parts, m.theme.errorStyle().Render(fmt.Sprintf("%d unread", n)))
	}
	return strings.Join(parts, " • ")
}

// refresh re-renders the log into the viewport.
func (m *chatModel) refresh(scroll bool) {
	if !m.ready {
		return
	}
	now := time.Now()
	var b strings.Builder
	for _, e := range m.snap.Entries {
		label := fmt.Sprintf("%s  %s", senderLabel(e.Message, e.Own), clock(e.Message.SentAt, now))
		b.WriteString(m.theme.senderStyle(e).Render(label))
		b.WriteString("\n")
		b.WriteString(m.renderBody(e))
		b.WriteString("\n\n")
	}
	m.viewport.SetContent(b.String())
	if scroll {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderBody(e chat.Entry) string {
	id, content := e.Message.ID, e.Message.Content
	if r, ok := m.cache[id]; ok && r.content == content {
		return r.out
	}

	out := markdown.PlainText(content)
	if m.renderer != nil {
		// Storefront text breaks lines on every newline.
		md := strings.ReplaceAll(markdown.NormalizeNewlines(content), "\n", "  \n")
		if s, err := m.renderer.Render(md); err == nil {
			out = strings.Trim(s, "\n")
		}
	}
	m.cache[id] = rendered{content: content, out: out}
	return out
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// runChatUI runs the chat window until the user quits or ctx ends.
func runChatUI(ctx context.Context, s *chat.Session, userName string) error {
	p := tea.NewProgram(newChatModel(s, userName))

	// Observe hands over the current state synchronously; Send blocks until
	// the program runs.
	go s.Observe(func(snap chat.Snapshot) { p.Send(snapshotMsg(snap)) })

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(uiCtx)

	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("chat UI error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		p.Quit()
		return nil
	})

	return g.Wait()
}
