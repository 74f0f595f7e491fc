package eventbus

import (
	"fmt"
	"strings"

	"github.com/ikanban/ikanban/internal/domain"
)

// ToUIUpdate projects an event for UI listeners.
// Log-only events are not delivered to the UI channel.
func ToUIUpdate(event domain.RuntimeEvent) (domain.UIUpdate, bool) {
	if event.Type == domain.EventLogAppended {
		return domain.UIUpdate{}, false
	}
	return domain.UIUpdate{
		Sequence:  event.Sequence,
		EventType: event.Type,
		TaskID:    event.Payload.TaskID,
		ProjectID: event.Payload.ProjectID,
		State:     event.Payload.State,
	}, true
}

// ToLogEntry renders an event as a one-line log entry.
func ToLogEntry(event domain.RuntimeEvent) domain.LogEntry {
	p := event.Payload
	return domain.LogEntry{
		Sequence:  event.Sequence,
		Level:     logLevel(event),
		Source:    logSource(event),
		Message:   logMessage(event),
		TaskID:    p.TaskID,
		ProjectID: p.ProjectID,
	}
}

func logLevel(event domain.RuntimeEvent) domain.LogLevel {
	switch event.Type {
	case domain.EventTaskFailed:
		return domain.LogError
	case domain.EventLogAppended:
		if event.Payload.Level != "" {
			return event.Payload.Level
		}
	}
	return domain.LogInfo
}

func logSource(event domain.RuntimeEvent) string {
	if event.Payload.Source != "" {
		return event.Payload.Source
	}
	prefix, _, _ := strings.Cut(string(event.Type), ".")
	switch prefix {
	case "task":
		return "orchestrator"
	case "worktree":
		return "worktree"
	case "session":
		return "conversation"
	default:
		return "runtime"
	}
}

func logMessage(event domain.RuntimeEvent) string {
	p := event.Payload
	switch event.Type {
	case domain.EventTaskEnqueued:
		return fmt.Sprintf("Task %s created in state %s.", p.TaskID, p.State)
	case domain.EventTaskStateChanged:
		return fmt.Sprintf("Task %s moved from %s to %s.", p.TaskID, p.PreviousState, p.State)
	case domain.EventTaskWorktreeCreated:
		return fmt.Sprintf("Task %s worktree %s ready at %s.", p.TaskID, p.Name, p.Directory)
	case domain.EventTaskSessionCreated:
		return fmt.Sprintf("Task %s attached to session %s.", p.TaskID, p.SessionID)
	case domain.EventTaskPromptSubmitted:
		kind := "initial"
		if p.PromptKind == domain.PromptFollowUp {
			kind = "follow-up"
		}
		return fmt.Sprintf("Task %s sent %s prompt to session %s.", p.TaskID, kind, p.SessionID)
	case domain.EventTaskCleanupCompleted:
		switch {
		case p.Directory == "":
			return fmt.Sprintf("Task %s had no worktree to clean up.", p.TaskID)
		case p.Removed:
			return fmt.Sprintf("Task %s worktree removed from %s.", p.TaskID, p.Directory)
		default:
			return fmt.Sprintf("Task %s worktree kept at %s.", p.TaskID, p.Directory)
		}
	case domain.EventTaskFailed:
		return fmt.Sprintf("Task %s failed: %s", p.TaskID, p.Error)
	case domain.EventTaskCompleted:
		return fmt.Sprintf("Task %s completed.", p.TaskID)
	case domain.EventWorktreeCreated:
		return fmt.Sprintf("Worktree %s created at %s.", p.Name, p.Directory)
	case domain.EventWorktreeCleanup:
		return fmt.Sprintf("Worktree cleanup for task %s with policy %s.", p.TaskID, p.Policy)
	case domain.EventWorktreeRemoved:
		return fmt.Sprintf("Worktree %s removed.", p.Directory)
	case domain.EventSessionCreated:
		return fmt.Sprintf("Session %s created.", p.SessionID)
	case domain.EventSessionPromptSubmitted:
		return fmt.Sprintf("Prompt submitted to session %s.", p.SessionID)
	case domain.EventLogAppended:
		return p.Message
	default:
		return string(event.Type)
	}
}
