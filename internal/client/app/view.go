package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/cloudzz-dev/periskope/internal/chat"
)

// --- View ---

func (m Model) View() string {
	switch m.route {
	case routeLoading:
		return m.loadingView()
	case routeLogin:
		return m.loginView()
	case routeChat:
		return m.chatView()
	}
	return ""
}

func (m Model) loadingView() string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		mutedStyle.Render("Loading..."))
}

func (m Model) loginView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Periskope"))
	s.WriteString("\n\n")
	s.WriteString("Email:\n")
	s.WriteString(m.emailInput.View() + "\n\n")
	s.WriteString("Password:\n")
	s.WriteString(m.passwordInput.View() + "\n\n")

	if m.loginErr != "" {
		s.WriteString(errorStyle.Render(m.loginErr) + "\n\n")
	}
	if m.signingIn {
		s.WriteString(mutedStyle.Render("Signing in...") + "\n\n")
	}

	s.WriteString(helpStyle.Render("Tab to switch fields • Enter to sign in • Ctrl+C to quit"))

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		boxStyle.Render(s.String()))
}

func (m Model) chatView() string {
	height := max(m.height, 10)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		railStyle.Height(height-2).Render(avatarStyle.Render(m.avatarLetter())),
		sidebarStyle.Width(sidebarWidth).Height(height).Render(m.sidebarView()),
		lipgloss.NewStyle().Width(m.mainWidth()).Render(m.mainView()),
	)
	return body
}

// avatarLetter is the upper-cased initial of the open conversation.
func (m Model) avatarLetter() string {
	if m.selected == nil {
		return "P"
	}
	return strings.ToUpper(m.selected.Initial())
}

func (m Model) sidebarView() string {
	var s strings.Builder

	s.WriteString(m.searchInput.View())
	s.WriteString("\n\n")

	visible := m.visibleChats()
	if len(visible) == 0 {
		s.WriteString(mutedStyle.Render("No chats available."))
		return s.String()
	}

	for i, c := range visible {
		style := lipgloss.NewStyle()
		prefix := "  "
		if m.focus == focusList && i == m.cursor {
			style = selectedStyle
			prefix = "→ "
		} else if m.selected != nil && c.ID == m.selected.ID {
			style = selectedStyle
		}

		line := fmt.Sprintf("%s%s %s", prefix,
			avatarStyle.Render(strings.ToUpper(c.Initial())),
			style.Render(c.Name))
		if c.Phone != "" {
			line += " " + mutedStyle.Render(c.Phone)
		}
		s.WriteString(truncate(line, sidebarWidth-1) + "\n")
		s.WriteString("    " + mutedStyle.Render(truncate(c.Preview(), sidebarWidth-6)) + "\n")
	}
	return s.String()
}

func (m Model) mainView() string {
	if m.selected == nil {
		return lipgloss.Place(m.mainWidth(), max(m.height-1, 5), lipgloss.Center, lipgloss.Center,
			mutedStyle.Render("Select a chat to start messaging"))
	}

	var s strings.Builder

	header := fmt.Sprintf("%s %s", avatarStyle.Render(m.avatarLetter()), titleStyle.Render(m.selected.Name))
	if m.selected.Phone != "" {
		header += " " + mutedStyle.Render(m.selected.Phone)
	}
	s.WriteString(headerStyle.Width(m.mainWidth()).Render(header))
	s.WriteString("\n")

	if m.hasOlder {
		s.WriteString(helpStyle.Render("Ctrl+O for older messages"))
		s.WriteString("\n")
	}
	s.WriteString(m.thread.View())
	s.WriteString("\n")
	s.WriteString(composerStyle.Width(m.mainWidth()).Render(m.composerView()))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Tab focus • Enter send • Ctrl+T file • Ctrl+X log out • Ctrl+C quit"))
	return s.String()
}

func (m Model) composerView() string {
	switch {
	case m.confirming && m.pending != nil:
		return fmt.Sprintf("Do you want to send the file %q? (y/n) %s",
			m.pending.Name, mutedStyle.Render(humanize.Bytes(uint64(m.pending.Size))))
	case m.picking:
		return m.picker.View() + "\n" + helpStyle.Render("Enter to choose • Esc to cancel")
	case m.uploading:
		return mutedStyle.Render("Sending file...")
	}
	return m.composer.View()
}

// refreshThread re-renders the message list into the viewport.
func (m *Model) refreshThread(stickToBottom bool) {
	m.thread.SetContent(m.renderThread(m.thread.Width))
	if stickToBottom {
		m.thread.GotoBottom()
	}
}

// renderThread lays out the conversation: day separators, then bubbles,
// the caller's own on the right.
func (m Model) renderThread(width int) string {
	if len(m.messages) == 0 {
		return ""
	}
	var lines []string
	for _, item := range groupByDay(m.messages, m.loc) {
		if item.message == nil {
			lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Center, separatorStyle.Render(item.day)))
			continue
		}
		lines = append(lines, m.renderBubble(*item.message, width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderBubble(msg chat.Message, width int) string {
	own := m.identity != nil && msg.SenderID == m.identity.ID
	stamp := msg.CreatedAt.In(m.loc).Format(timeLayout)

	style := bubbleStyle
	meta := mutedStyle.Render(stamp)
	if own {
		style = ownBubbleStyle
		meta += " " + tickStyle.Render("✓")
	}
	bubble := style.MaxWidth(max(width*3/4, 10)).Render(messageBody(msg) + "  " + meta)

	if own {
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble)
	}
	return bubble
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}
