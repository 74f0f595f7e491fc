package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/eventbus"
)

type fakeSource struct {
	task         *domain.TaskRuntime
	getErr       error
	messages     []domain.ConversationMessageMeta
	onEvent      func(domain.RuntimeStreamEvent)
	unsubscribed int
}

func (f *fakeSource) GetTask(string) (*domain.TaskRuntime, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.task, nil
}

func (f *fakeSource) ListMessages(context.Context, string) ([]domain.ConversationMessageMeta, error) {
	return f.messages, nil
}

func (f *fakeSource) WatchTask(_ context.Context, _ string, onEvent func(domain.RuntimeStreamEvent)) (*domain.Subscription, error) {
	f.onEvent = onEvent
	return &domain.Subscription{Unsubscribe: func() error {
		f.unsubscribed++
		return nil
	}}, nil
}

func newTestModel(t *testing.T, src *fakeSource, logs LogSource) *Model {
	t.Helper()
	m := New(context.Background(), src, logs, "t1")
	t.Cleanup(func() { _ = m.Close() })
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_ViewBeforeSize(t *testing.T) {
	m := New(context.Background(), &fakeSource{}, nil, "t1")
	assert.Equal(t, "Loading...", m.View())
}

func TestModel_TaskAndMessages(t *testing.T) {
	src := &fakeSource{
		task: &domain.TaskRuntime{
			TaskID:            "t1",
			Title:             "Fix login",
			State:             domain.TaskStateReview,
			SessionID:         "ses_1",
			WorktreeDirectory: "/tmp/project/.worktrees/task-t1-1",
		},
		messages: []domain.ConversationMessageMeta{
			{ID: "m1", Role: domain.RoleUser, Preview: "please fix login", CreatedAt: time.Unix(0, 0)},
			{ID: "m2", Role: domain.RoleAssistant, PartCount: 3},
		},
	}
	m := newTestModel(t, src, nil)

	m.Update(m.loadTask()())
	m.Update(m.loadMessages()())

	view := m.View()
	assert.Contains(t, view, "Fix login")
	assert.Contains(t, view, "[review]")
	assert.Contains(t, view, "session ses_1")
	assert.Contains(t, view, "Messages (2)")
	assert.Contains(t, view, "please fix login")
	assert.Contains(t, view, "(3 parts)")
	assert.Same(t, src.task, m.Task())
}

func TestModel_LoadTaskError(t *testing.T) {
	m := newTestModel(t, &fakeSource{getErr: domain.ErrTaskNotFound}, nil)

	m.Update(m.loadTask()())

	require.Error(t, m.err)
	assert.True(t, errors.Is(m.err, domain.ErrTaskNotFound))
	assert.Contains(t, m.View(), domain.ErrTaskNotFound.Error())
}

func TestModel_StreamEventsFlowThroughInbox(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(t, src, nil)

	m.Update(m.startWatch()())
	require.NotNil(t, src.onEvent)

	src.onEvent(domain.RuntimeStreamEvent{Type: "message.updated", Data: []byte(`{"sessionID":"ses_1"}`)})
	msg := m.waitForMsg()()
	require.IsType(t, MsgStreamEvent{}, msg)

	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	view := m.View()
	assert.Contains(t, view, "Events (1)")
	assert.Contains(t, view, `message.updated {"sessionID":"ses_1"}`)

	require.NoError(t, m.Close())
	assert.Equal(t, 1, src.unsubscribed)
	require.NoError(t, m.Close())
	assert.Equal(t, 1, src.unsubscribed)
}

func TestModel_BusLogLinesForTask(t *testing.T) {
	bus := eventbus.New(nil)
	m := newTestModel(t, &fakeSource{}, bus)

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "other", State: domain.TaskStateQueued})
	bus.Emit(domain.EventTaskFailed, domain.EventPayload{TaskID: "t1", Error: "boom"})

	msg := m.waitForMsg()()
	entry, ok := msg.(MsgLogEntry)
	require.True(t, ok)
	assert.Equal(t, "t1", entry.Entry.TaskID)

	m.Update(msg)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Contains(t, m.View(), "Task t1 failed: boom")

	require.NoError(t, m.Close())
	assert.Equal(t, 0, bus.ListenerCount())
}

func TestModel_Keys(t *testing.T) {
	m := newTestModel(t, &fakeSource{}, nil)

	_, cmd := m.Update(keyRunes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	assert.True(t, m.follow)
	m.Update(keyRunes("f"))
	assert.False(t, m.follow)
	m.Update(keyRunes("f"))
	assert.True(t, m.follow)

	m.Update(keyRunes("k"))
	assert.False(t, m.follow)

	assert.Equal(t, paneMessages, m.pane)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, paneEvents, m.pane)

	m.Update(keyRunes("?"))
	assert.True(t, m.help.ShowAll)
}

func TestModel_EventPaneIsBounded(t *testing.T) {
	m := newTestModel(t, &fakeSource{}, nil)

	for i := 0; i < maxEventLines+25; i++ {
		m.appendEvent("line")
	}
	assert.Len(t, m.events, maxEventLines)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, 5, len([]rune(truncate(strings.Repeat("é", 10), 5))))
}
