package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/agentchat/pkg/domain"
)

var (
	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// lastReply returns the most recent settled agent reply, or nil.
func lastReply(msgs []domain.UIMessage) *domain.UIMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Sender == domain.SenderAgent && !m.IsError && !m.Local && m.Status == domain.StatusCompleted {
			return &msgs[i]
		}
	}
	return nil
}

func conversationRows(convs []domain.Conversation) []string {
	rows := make([]string, 0, len(convs))
	for _, c := range convs {
		row := fmt.Sprintf("%s (%s)", c.Title, c.UpdatedAt.Local().Format("Jan 2 15:04"))
		if c.Preview != "" {
			row += "  " + systemStyle.Render(c.Preview)
		}
		rows = append(rows, row)
	}
	return rows
}

func renderMessages(msgs []domain.UIMessage, r *glamour.TermRenderer) string {
	if len(msgs) == 0 {
		return systemStyle.Render("Say hello to start the conversation.")
	}

	var sb strings.Builder
	for _, m := range msgs {
		switch {
		case m.Sender == domain.SenderUser:
			sb.WriteString(userStyle.Render("You:"))
		case m.Sender == domain.SenderAgent:
			sb.WriteString(agentStyle.Render("AI:"))
		default:
			sb.WriteString(systemStyle.Render(m.Text))
			sb.WriteString("\n\n")
			continue
		}
		switch m.Feedback {
		case domain.FeedbackLiked:
			sb.WriteString(systemStyle.Render(" [liked]"))
		case domain.FeedbackDisliked:
			sb.WriteString(systemStyle.Render(" [disliked]"))
		}
		sb.WriteString("\n")

		switch {
		case m.IsError:
			sb.WriteString(failedStyle.Render(m.Text))
			sb.WriteString("\n")
		case m.Status == domain.StatusPending && m.Text == "":
			sb.WriteString(systemStyle.Render("…"))
			sb.WriteString("\n")
		case m.Sender == domain.SenderAgent && !m.IsStreaming:
			sb.WriteString(markdown(r, m.Text))
		default:
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
		if m.FileName != "" {
			sb.WriteString(systemStyle.Render("📎 " + m.FileName))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// markdown renders text with r, falling back to the raw text.
func markdown(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
