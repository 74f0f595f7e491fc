package eventbus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
)

func TestBus_PreservesOrderingAcrossListeners(t *testing.T) {
	bus := New(nil)

	var events, ui, logs []string
	bus.Subscribe(func(e domain.RuntimeEvent) {
		events = append(events, fmt.Sprintf("%d:%s", e.Sequence, e.Type))
	})
	bus.SubscribeToUIUpdates(func(u domain.UIUpdate) {
		ui = append(ui, fmt.Sprintf("%d:%s", u.Sequence, u.EventType))
	})
	bus.SubscribeToLogs(func(l domain.LogEntry) {
		logs = append(logs, fmt.Sprintf("%d:%s:%s", l.Sequence, l.Level, l.Message))
	})

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{
		TaskID:    "task-1",
		ProjectID: "project-a",
		State:     domain.TaskStateQueued,
	})
	bus.Emit(domain.EventWorktreeCreated, domain.EventPayload{
		TaskID:    "task-1",
		ProjectID: "project-a",
		Directory: "/tmp/project/.worktrees/task-1",
		Branch:    "task-1",
		Name:      "task-task-1-1",
	})
	bus.Emit(domain.EventSessionCreated, domain.EventPayload{
		TaskID:    "task-1",
		ProjectID: "project-a",
		SessionID: "session-1",
		Directory: "/tmp/project/.worktrees/task-1",
		Title:     "Task 1",
	})
	bus.Emit(domain.EventLogAppended, domain.EventPayload{
		Level:     domain.LogWarn,
		Message:   "Retrying after transient failure",
		TaskID:    "task-1",
		ProjectID: "project-a",
		Source:    "orchestrator",
	})

	assert.Equal(t, []string{
		"1:task.enqueued",
		"2:worktree.created",
		"3:session.created",
		"4:log.appended",
	}, events)
	assert.Equal(t, []string{
		"1:task.enqueued",
		"2:worktree.created",
		"3:session.created",
	}, ui)
	assert.Equal(t, []string{
		"1:info:Task task-1 created in state queued.",
		"2:info:Worktree task-task-1-1 created at /tmp/project/.worktrees/task-1.",
		"3:info:Session session-1 created.",
		"4:warn:Retrying after transient failure",
	}, logs)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := New(nil)

	var events, ui, logs []string
	unsubEvents := bus.Subscribe(func(e domain.RuntimeEvent) { events = append(events, string(e.Type)) })
	unsubUI := bus.SubscribeToUIUpdates(func(u domain.UIUpdate) { ui = append(ui, string(u.EventType)) })
	unsubLogs := bus.SubscribeToLogs(func(l domain.LogEntry) { logs = append(logs, l.Message) })

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{
		TaskID:    "task-2",
		ProjectID: "project-a",
		State:     domain.TaskStateQueued,
	})
	assert.Equal(t, 3, bus.ListenerCount())

	for i := 0; i < 2; i++ {
		unsubEvents()
		unsubUI()
		unsubLogs()
	}
	assert.Equal(t, 0, bus.ListenerCount())

	bus.Emit(domain.EventTaskCompleted, domain.EventPayload{TaskID: "task-2", ProjectID: "project-a"})

	assert.Equal(t, []string{"task.enqueued"}, events)
	assert.Equal(t, []string{"task.enqueued"}, ui)
	assert.Equal(t, []string{"Task task-2 created in state queued."}, logs)
}

func TestBus_UnsubscribeOnlyRemovesOwnListener(t *testing.T) {
	bus := New(nil)

	var first, second int
	unsubFirst := bus.Subscribe(func(domain.RuntimeEvent) { first++ })
	bus.Subscribe(func(domain.RuntimeEvent) { second++ })

	unsubFirst()
	unsubFirst()
	bus.Emit(domain.EventTaskCompleted, domain.EventPayload{TaskID: "t"})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, bus.ListenerCount())
}

func TestBus_EmitReturnsSequencedEvent(t *testing.T) {
	bus := New(nil)

	first := bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "a"})
	second := bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "b"})

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, "b", second.Payload.TaskID)
	assert.False(t, second.EmittedAt.IsZero())
}

func TestBus_NestedEmitIsDeliveredAfterCurrentEvent(t *testing.T) {
	bus := New(nil)

	var first, second []uint64
	bus.Subscribe(func(e domain.RuntimeEvent) {
		first = append(first, e.Sequence)
		if e.Type == domain.EventTaskEnqueued {
			nested := bus.Emit(domain.EventLogAppended, domain.EventPayload{Message: "nested"})
			assert.Equal(t, uint64(2), nested.Sequence)
		}
	})
	bus.Subscribe(func(e domain.RuntimeEvent) {
		second = append(second, e.Sequence)
	})

	bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "t"})

	assert.Equal(t, []uint64{1, 2}, first)
	assert.Equal(t, []uint64{1, 2}, second)
}

func TestBus_ConcurrentEmittersKeepPerListenerOrder(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	var seen []uint64
	bus.Subscribe(func(e domain.RuntimeEvent) {
		mu.Lock()
		seen = append(seen, e.Sequence)
		mu.Unlock()
	})

	const emitters, perEmitter = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				bus.Emit(domain.EventLogAppended, domain.EventPayload{Message: "tick"})
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, emitters*perEmitter)
	for i, seq := range seen {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestBus_EmitDuringDrainReturnsBeforeDelivery(t *testing.T) {
	bus := New(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []uint64
	bus.Subscribe(func(e domain.RuntimeEvent) {
		mu.Lock()
		seen = append(seen, e.Sequence)
		mu.Unlock()
		if e.Sequence == 1 {
			close(entered)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "a"})
	}()
	<-entered

	queued := bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "b"})
	assert.Equal(t, uint64(2), queued.Sequence)
	mu.Lock()
	assert.Equal(t, []uint64{1}, seen)
	mu.Unlock()

	close(release)
	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestBus_PanickingListenerDoesNotWedgeBus(t *testing.T) {
	bus := New(nil)

	unsub := bus.Subscribe(func(domain.RuntimeEvent) { panic("listener failed") })
	assert.Panics(t, func() {
		bus.Emit(domain.EventTaskEnqueued, domain.EventPayload{TaskID: "t"})
	})
	unsub()

	var got []uint64
	bus.Subscribe(func(e domain.RuntimeEvent) { got = append(got, e.Sequence) })
	bus.Emit(domain.EventTaskCompleted, domain.EventPayload{TaskID: "t"})

	assert.Equal(t, []uint64{2}, got)
}

func TestToLogEntry(t *testing.T) {
	tests := []struct {
		name    string
		event   domain.RuntimeEvent
		level   domain.LogLevel
		source  string
		message string
	}{
		{
			name:    "failure is an error",
			event:   domain.RuntimeEvent{Type: domain.EventTaskFailed, Payload: domain.EventPayload{TaskID: "t", Error: "boom"}},
			level:   domain.LogError,
			source:  "orchestrator",
			message: "Task t failed: boom",
		},
		{
			name:    "state change",
			event:   domain.RuntimeEvent{Type: domain.EventTaskStateChanged, Payload: domain.EventPayload{TaskID: "t", PreviousState: domain.TaskStateQueued, State: domain.TaskStateCreatingWorktree}},
			level:   domain.LogInfo,
			source:  "orchestrator",
			message: "Task t moved from queued to creating_worktree.",
		},
		{
			name:    "follow-up prompt",
			event:   domain.RuntimeEvent{Type: domain.EventTaskPromptSubmitted, Payload: domain.EventPayload{TaskID: "t", SessionID: "s", PromptKind: domain.PromptFollowUp}},
			level:   domain.LogInfo,
			source:  "orchestrator",
			message: "Task t sent follow-up prompt to session s.",
		},
		{
			name:    "cleanup kept",
			event:   domain.RuntimeEvent{Type: domain.EventTaskCleanupCompleted, Payload: domain.EventPayload{TaskID: "t", Directory: "/w"}},
			level:   domain.LogInfo,
			source:  "orchestrator",
			message: "Task t worktree kept at /w.",
		},
		{
			name:    "session prompt",
			event:   domain.RuntimeEvent{Type: domain.EventSessionPromptSubmitted, Payload: domain.EventPayload{SessionID: "s"}},
			level:   domain.LogInfo,
			source:  "conversation",
			message: "Prompt submitted to session s.",
		},
		{
			name:    "log without level defaults to info",
			event:   domain.RuntimeEvent{Type: domain.EventLogAppended, Payload: domain.EventPayload{Message: "hello"}},
			level:   domain.LogInfo,
			source:  "runtime",
			message: "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := ToLogEntry(tt.event)
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.source, entry.Source)
			assert.Equal(t, tt.message, entry.Message)
		})
	}
}

func TestToUIUpdate(t *testing.T) {
	update, ok := ToUIUpdate(domain.RuntimeEvent{
		Sequence: 7,
		Type:     domain.EventTaskStateChanged,
		Payload:  domain.EventPayload{TaskID: "t", ProjectID: "p", State: domain.TaskStateRunning},
	})
	require.True(t, ok)
	assert.Equal(t, domain.UIUpdate{
		Sequence:  7,
		EventType: domain.EventTaskStateChanged,
		TaskID:    "t",
		ProjectID: "p",
		State:     domain.TaskStateRunning,
	}, update)

	_, ok = ToUIUpdate(domain.RuntimeEvent{Type: domain.EventLogAppended})
	assert.False(t, ok)
}
