package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/agentchat/pkg/chat"
	"github.com/nstogner/agentchat/pkg/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	helpStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type screen int

const (
	screenPicker screen = iota
	screenChat
)

type eventMsg chat.Event

// actionMsg reports the end of a controller call. Failures have already
// been published as notices.
type actionMsg struct {
	name string
	err  error
}

type model struct {
	ctx    context.Context
	ctrl   *chat.Controller
	events <-chan chat.Event
	stream bool

	screen     screen
	state      chat.State
	cursor     int
	listOffset int
	width      int
	height     int
	notice     *chat.Notice

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, ctrl *chat.Controller, stream bool) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:      ctx,
		ctrl:     ctrl,
		events:   ctrl.Subscribe(),
		stream:   stream,
		state:    ctrl.State(),
		viewport: vp,
		textarea: ta,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.clampList()
		m.refresh()
		return m, nil

	case eventMsg:
		switch msg.Type {
		case chat.EventStateChanged:
			m.state = m.ctrl.State()
			m.refresh()
		case chat.EventNotice:
			m.notice = msg.Notice
		case chat.EventNavigate:
			m.screen = screenPicker
			m.cursor = 0
			m.listOffset = 0
		}
		return m, waitForEvent(m.events)

	case actionMsg:
		if msg.err != nil {
			slog.Debug("Action failed", "action", msg.name, "error", msg.err)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.screen == screenPicker {
			return m.updatePicker(msg)
		}
		return m.updateChat(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The first row starts a new conversation.
	rows := len(m.state.Conversations) + 1
	switch msg.Type {
	case tea.KeyUp:
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampList()
	case tea.KeyDown:
		if m.cursor < rows-1 {
			m.cursor++
		}
		m.clampList()
	case tea.KeyEsc:
		if m.state.ActiveConversationID != "" {
			m.screen = screenChat
		}
	case tea.KeyEnter:
		m.notice = nil
		m.screen = screenChat
		m.textarea.Focus()
		if m.cursor == 0 {
			return m, m.newConversation()
		}
		id := m.state.Conversations[m.cursor-1].ID
		return m, m.do("select", func(ctx context.Context) error {
			return m.ctrl.SelectConversation(ctx, id)
		})
	case tea.KeyRunes:
		if msg.String() == "x" && m.cursor > 0 {
			id := m.state.Conversations[m.cursor-1].ID
			m.cursor--
			return m, m.do("delete", func(ctx context.Context) error {
				return m.ctrl.DeleteConversation(ctx, id)
			})
		}
	}
	return m, nil
}

func (m model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.screen = screenPicker
		m.cursor = 0
		m.listOffset = 0
		return m, m.do("load", m.ctrl.LoadConversations)
	case tea.KeyCtrlN:
		m.notice = nil
		return m, m.newConversation()
	case tea.KeyCtrlX:
		m.ctrl.Cancel()
		return m, nil
	case tea.KeyCtrlL:
		return m, m.feedback(domain.FeedbackLiked)
	case tea.KeyCtrlD:
		return m, m.feedback(domain.FeedbackDisliked)
	case tea.KeyCtrlR:
		last := lastReply(m.state.Messages)
		if last == nil {
			return m, nil
		}
		m.notice = nil
		req := chat.RegenerateRequest{MessageID: last.ID, Stream: m.stream}
		return m, m.do("regenerate", func(ctx context.Context) error {
			return m.ctrl.Regenerate(ctx, req)
		})
	case tea.KeyEnter:
		text := strings.TrimSpace(m.textarea.Value())
		if text == "" || m.state.IsPending {
			return m, nil
		}
		m.notice = nil
		m.textarea.Reset()
		m.ctrl.SetInput(text)
		req := chat.SubmitRequest{Text: text, Stream: m.stream}
		return m, m.do("submit", func(ctx context.Context) error {
			return m.ctrl.Submit(ctx, req)
		})
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var noticeView string
	if m.notice != nil {
		noticeView = errorStyle.Width(m.width).Render(fmt.Sprintf("%s: %s", m.notice.Title, m.notice.Message))
	}

	if m.screen == screenPicker {
		header := titleStyle.Render("Conversations")
		rows := append([]string{"+ New conversation"}, conversationRows(m.state.Conversations)...)

		end := min(m.listOffset+m.maxViewable(), len(rows))
		var optionsView []string
		for i := m.listOffset; i < end; i++ {
			cursor := " "
			line := rows[i]
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := helpStyle.Render("enter: open • x: delete • ctrl+c: quit")
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, noticeView)
	}

	title := "New conversation"
	for _, c := range m.state.Conversations {
		if c.ID == m.state.ActiveConversationID {
			title = c.Title
		}
	}
	status := "ctrl+n new • ctrl+l/ctrl+d rate • ctrl+r regenerate • esc list"
	if m.state.IsPending {
		status = "waiting for the agent… ctrl+x to cancel"
	}
	if m.state.WaitingForFeedbackOnMessageID != "" {
		status = "tell us what was wrong with the reply"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(title),
		m.viewport.View(),
		noticeView,
		helpStyle.Render(status),
		m.textarea.View(),
	)
}

// refresh re-renders the transcript into the viewport.
func (m *model) refresh() {
	m.viewport.SetContent(renderMessages(m.state.Messages, m.renderer))
	m.viewport.GotoBottom()
}

func (m *model) maxViewable() int {
	return max(m.height-7, 1)
}

func (m *model) clampList() {
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+m.maxViewable() {
		m.listOffset = m.cursor - m.maxViewable() + 1
	}
	if m.listOffset < 0 {
		m.listOffset = 0
	}
}

func (m model) newConversation() tea.Cmd {
	return m.do("new", func(ctx context.Context) error {
		_, err := m.ctrl.NewConversation(ctx, "")
		return err
	})
}

func (m model) feedback(fb domain.Feedback) tea.Cmd {
	last := lastReply(m.state.Messages)
	if last == nil {
		return nil
	}
	if last.Feedback == fb {
		fb = domain.FeedbackNone
	}
	convID, msgID := m.state.ActiveConversationID, last.ID
	return m.do("feedback", func(ctx context.Context) error {
		return m.ctrl.SetFeedback(ctx, convID, msgID, fb)
	})
}

// do runs a controller call off the UI goroutine.
func (m model) do(name string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{name: name, err: fn(ctx)}
	}
}

func waitForEvent(ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}
