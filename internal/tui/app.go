// Package tui provides the terminal watch view of a task.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ikanban/ikanban/internal/domain"
)

// maxEventLines bounds the event pane.
const maxEventLines = 500

// Source is what the watch view reads a task from. Implemented by the orchestrator.
type Source interface {
	GetTask(taskID string) (*domain.TaskRuntime, error)
	ListMessages(ctx context.Context, taskID string) ([]domain.ConversationMessageMeta, error)
	WatchTask(ctx context.Context, taskID string, onEvent func(domain.RuntimeStreamEvent)) (*domain.Subscription, error)
}

// LogSource delivers projected bus log lines. Implemented by the event bus.
type LogSource interface {
	SubscribeToLogs(fn func(domain.LogEntry)) func()
}

// pane selects what the viewport shows.
type pane int

const (
	paneMessages pane = iota
	paneEvents
)

// Model is the watch view.
// Fields are ordered to minimize memory padding.
type Model struct {
	ctx          context.Context
	source       Source
	err          error
	task         *domain.TaskRuntime
	subscription *domain.Subscription
	inbox        chan tea.Msg
	stopLogs     func()
	styles       Styles
	keys         KeyMap
	taskID       string
	messages     []domain.ConversationMessageMeta
	events       []string
	help         help.Model
	viewport     viewport.Model
	width        int
	height       int
	pane         pane
	follow       bool
	ready        bool
}

// New creates the watch view of a task. logs may be nil.
func New(ctx context.Context, source Source, logs LogSource, taskID string) *Model {
	m := &Model{
		ctx:    ctx,
		source: source,
		taskID: taskID,
		inbox:  make(chan tea.Msg, 256),
		styles: DefaultStyles(),
		keys:   DefaultKeyMap(),
		help:   help.New(),
		follow: true,
	}
	if logs != nil {
		m.stopLogs = logs.SubscribeToLogs(func(e domain.LogEntry) {
			if e.TaskID == "" || e.TaskID == taskID {
				m.push(MsgLogEntry{Entry: e})
			}
		})
	}
	return m
}

// push hands a message to the program without blocking the producer.
// Messages are dropped when the view falls behind.
func (m *Model) push(msg tea.Msg) {
	select {
	case m.inbox <- msg:
	default:
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadTask(), m.loadMessages(), m.startWatch(), m.waitForMsg())
}

// Close releases the stream subscription and the log listener.
func (m *Model) Close() error {
	if m.stopLogs != nil {
		m.stopLogs()
		m.stopLogs = nil
	}
	if m.subscription != nil && m.subscription.Unsubscribe != nil {
		err := m.subscription.Unsubscribe()
		m.subscription = nil
		return err
	}
	return nil
}

// Task returns the last loaded task runtime.
func (m *Model) Task() *domain.TaskRuntime {
	return m.task
}

func (m *Model) waitForMsg() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.inbox:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) loadTask() tea.Cmd {
	return func() tea.Msg {
		task, err := m.source.GetTask(m.taskID)
		if err != nil {
			return MsgError{Err: err}
		}
		return MsgTaskLoaded{Task: task}
	}
}

func (m *Model) loadMessages() tea.Cmd {
	return func() tea.Msg {
		messages, err := m.source.ListMessages(m.ctx, m.taskID)
		if err != nil {
			return MsgError{Err: fmt.Errorf("load messages: %w", err)}
		}
		return MsgMessagesLoaded{Messages: messages}
	}
}

func (m *Model) startWatch() tea.Cmd {
	return func() tea.Msg {
		sub, err := m.source.WatchTask(m.ctx, m.taskID, func(ev domain.RuntimeStreamEvent) {
			m.push(MsgStreamEvent{Event: ev})
		})
		if err != nil {
			return MsgError{Err: fmt.Errorf("watch task: %w", err)}
		}
		return MsgWatchStarted{Subscription: sub}
	}
}

// appendEvent adds a line to the event pane, dropping the oldest beyond the cap.
func (m *Model) appendEvent(line string) {
	m.events = append(m.events, line)
	if n := len(m.events) - maxEventLines; n > 0 {
		m.events = append([]string(nil), m.events[n:]...)
	}
}

// refreshesMessages reports whether a stream event changes the conversation.
func refreshesMessages(ev domain.RuntimeStreamEvent) bool {
	return strings.HasPrefix(ev.Type, "message.") || ev.Type == "session.idle"
}
