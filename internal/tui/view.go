package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ikanban/ikanban/internal/domain"
)

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.tabsView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m *Model) headerView() string {
	if m.task == nil {
		return m.styles.Header.Render(m.styles.Title.Render("Task " + m.taskID))
	}
	t := m.task
	title := m.styles.Title.Render(t.Title) + " " +
		StateStyle(t.State).Render("["+string(t.State)+"]")

	var meta []string
	meta = append(meta, "id "+t.TaskID)
	if t.SessionID != "" {
		meta = append(meta, "session "+t.SessionID)
	}
	if t.WorktreeDirectory != "" {
		meta = append(meta, "worktree "+t.WorktreeDirectory)
	}
	lines := []string{title, m.styles.Meta.Render(strings.Join(meta, "  "))}
	if t.Error != "" {
		lines = append(lines, m.styles.Error.Render("error: "+t.Error))
	}
	return m.styles.Header.Render(strings.Join(lines, "\n"))
}

func (m *Model) tabsView() string {
	tabs := []struct {
		label string
		pane  pane
	}{
		{fmt.Sprintf("Messages (%d)", len(m.messages)), paneMessages},
		{fmt.Sprintf("Events (%d)", len(m.events)), paneEvents},
	}
	rendered := make([]string, len(tabs))
	for i, tab := range tabs {
		if tab.pane == m.pane {
			rendered[i] = m.styles.TabActive.Render(tab.label)
		} else {
			rendered[i] = m.styles.Tab.Render(tab.label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m *Model) footerView() string {
	status := m.help.View(m.keys)
	if m.follow {
		status = m.styles.FollowBadge.Render("● follow") + "  " + status
	}
	if m.err != nil {
		status = m.styles.Error.Render(m.err.Error()) + "\n" + status
	}
	return m.styles.Footer.Render(status)
}

func (m *Model) messagesContent() string {
	if len(m.messages) == 0 {
		return m.styles.Meta.Render("No messages yet.")
	}
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		header := m.styles.Role.Render(string(msg.Role))
		if !msg.CreatedAt.IsZero() {
			header += " " + m.styles.Meta.Render(msg.CreatedAt.Format("15:04:05"))
		}
		if msg.HasError {
			header += " " + m.styles.Error.Render("(error)")
		}
		b.WriteString(header + "\n")
		preview := msg.Preview
		if preview == "" {
			preview = fmt.Sprintf("(%d parts)", msg.PartCount)
		}
		b.WriteString(m.styles.Preview.Render(preview) + "\n")
	}
	return b.String()
}

func (m *Model) eventsContent() string {
	if len(m.events) == 0 {
		return m.styles.Meta.Render("Waiting for events...")
	}
	return strings.Join(m.events, "\n")
}

func (m *Model) renderStreamEvent(ev domain.RuntimeStreamEvent) string {
	line := m.styles.EventType.Render(ev.Type)
	data := ev.Data
	if len(data) == 0 {
		data = ev.Raw
	}
	if len(data) > 0 {
		line += " " + truncate(string(data), 160)
	}
	return line
}

func (m *Model) renderLogEntry(e domain.LogEntry) string {
	return LevelStyle(e.Level).Render(strings.ToUpper(string(e.Level))) + " " +
		m.styles.LogSource.Render("["+e.Source+"]") + " " + e.Message
}

// truncate shortens s to n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
