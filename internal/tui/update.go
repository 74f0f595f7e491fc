package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case MsgTaskLoaded:
		m.task = msg.Task
		m.err = nil
		return m, nil

	case MsgMessagesLoaded:
		m.messages = msg.Messages
		m.refreshContent()
		return m, nil

	case MsgWatchStarted:
		m.subscription = msg.Subscription
		return m, nil

	case MsgStreamEvent:
		m.appendEvent(m.renderStreamEvent(msg.Event))
		m.refreshContent()
		cmds := []tea.Cmd{m.waitForMsg()}
		if refreshesMessages(msg.Event) {
			cmds = append(cmds, m.loadMessages())
		}
		return m, tea.Batch(cmds...)

	case MsgLogEntry:
		m.appendEvent(m.renderLogEntry(msg.Entry))
		m.refreshContent()
		if msg.Entry.TaskID == m.taskID {
			return m, tea.Batch(m.waitForMsg(), m.loadTask())
		}
		return m, m.waitForMsg()

	case MsgError:
		m.err = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil
	case key.Matches(msg, m.keys.Tab):
		if m.pane == paneMessages {
			m.pane = paneEvents
		} else {
			m.pane = paneMessages
		}
		m.refreshContent()
		return m, nil
	case key.Matches(msg, m.keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, tea.Batch(m.loadTask(), m.loadMessages())
	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil
	}

	// Manual scrolling stops following
	if key.Matches(msg, m.keys.Up, m.keys.PageUp) {
		m.follow = false
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// resize fits the viewport between header and footer.
func (m *Model) resize() {
	chrome := lipgloss.Height(m.headerView()) + lipgloss.Height(m.tabsView()) + lipgloss.Height(m.footerView())
	height := max(m.height-chrome, 1)
	if !m.ready {
		m.viewport = viewport.New(m.width, height)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = height
	}
	m.refreshContent()
}

// refreshContent re-renders the active pane into the viewport.
func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	if m.pane == paneMessages {
		m.viewport.SetContent(m.messagesContent())
	} else {
		m.viewport.SetContent(m.eventsContent())
	}
	if m.follow {
		m.viewport.GotoBottom()
	}
}
