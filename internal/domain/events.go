package domain

import (
	"encoding/json"
	"time"
)

// EventType names a runtime event.
type EventType string

// Orchestrator-level events.
const (
	EventTaskEnqueued         EventType = "task.enqueued"
	EventTaskStateChanged     EventType = "task.state.changed"
	EventTaskWorktreeCreated  EventType = "task.worktree.created"
	EventTaskSessionCreated   EventType = "task.session.created"
	EventTaskPromptSubmitted  EventType = "task.prompt.submitted"
	EventTaskCleanupCompleted EventType = "task.cleanup.completed"
	EventTaskFailed           EventType = "task.failed"
	EventTaskCompleted        EventType = "task.completed"
)

// Manager-level events.
const (
	EventWorktreeCreated        EventType = "worktree.created"
	EventWorktreeCleanup        EventType = "worktree.cleanup"
	EventWorktreeRemoved        EventType = "worktree.removed"
	EventSessionCreated         EventType = "session.created"
	EventSessionPromptSubmitted EventType = "session.prompt.submitted"
	EventLogAppended            EventType = "log.appended"
)

// TaskEventTypes returns the event types delivered to orchestrator subscribers.
func TaskEventTypes() []EventType {
	return []EventType{
		EventTaskEnqueued,
		EventTaskStateChanged,
		EventTaskWorktreeCreated,
		EventTaskSessionCreated,
		EventTaskPromptSubmitted,
		EventTaskCleanupCompleted,
		EventTaskFailed,
		EventTaskCompleted,
	}
}

// IsTaskEvent returns true for orchestrator-level event types.
func (t EventType) IsTaskEvent() bool {
	for _, e := range TaskEventTypes() {
		if e == t {
			return true
		}
	}
	return false
}

// LogLevel is the severity carried by log projections.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// PromptKind distinguishes initial prompts from follow-ups.
type PromptKind string

const (
	PromptInitial  PromptKind = "initial"
	PromptFollowUp PromptKind = "follow_up"
)

// EventPayload carries the fields of every event type.
// Each type populates TaskID/ProjectID where known plus its own fields.
// Fields are ordered to minimize memory padding.
type EventPayload struct {
	At            time.Time     `json:"at,omitempty"`
	TaskID        string        `json:"taskId,omitempty"`
	ProjectID     string        `json:"projectId,omitempty"`
	State         TaskState     `json:"state,omitempty"`
	PreviousState TaskState     `json:"previousState,omitempty"`
	Directory     string        `json:"directory,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	Name          string        `json:"name,omitempty"`
	SessionID     string        `json:"sessionID,omitempty"`
	Title         string        `json:"title,omitempty"`
	PromptKind    PromptKind    `json:"promptKind,omitempty"`
	Policy        CleanupPolicy `json:"policy,omitempty"`
	Error         string        `json:"error,omitempty"`
	Level         LogLevel      `json:"level,omitempty"`
	Source        string        `json:"source,omitempty"`
	Message       string        `json:"message,omitempty"`
	Removed       bool          `json:"removed,omitempty"`
	Merged        bool          `json:"merged,omitempty"`
}

// RuntimeEvent is one entry of the append-only event stream.
type RuntimeEvent struct {
	EmittedAt time.Time    `json:"emittedAt"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
	Sequence  uint64       `json:"sequence"`
}

// UIUpdate is the projection delivered to UI surfaces for state-changing events.
type UIUpdate struct {
	EventType EventType
	TaskID    string
	ProjectID string
	State     TaskState
	Sequence  uint64
}

// LogEntry is the one-line human-readable projection of an event.
type LogEntry struct {
	Level     LogLevel
	Source    string
	Message   string
	TaskID    string
	ProjectID string
	Sequence  uint64
}

// EventEmitter publishes runtime events. Implemented by the event bus.
type EventEmitter interface {
	Emit(eventType EventType, payload EventPayload) RuntimeEvent
}

// RuntimeStreamEvent is one raw event read from the agent runtime stream.
type RuntimeStreamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"properties,omitempty"`
	Raw  json.RawMessage `json:"-"`
}
