package domain

// TaskState represents the lifecycle state of a task runtime.
type TaskState string

const (
	TaskStateQueued           TaskState = "queued"            // Accepted, nothing provisioned yet
	TaskStateCreatingWorktree TaskState = "creating_worktree" // Worktree provisioning in flight
	TaskStateRunning          TaskState = "running"           // Session created, prompt being submitted
	TaskStateReview           TaskState = "review"            // Prompt accepted, agent works asynchronously
	TaskStateCompleted        TaskState = "completed"         // Work accepted or merged
	TaskStateFailed           TaskState = "failed"            // A step failed, Error is set
	TaskStateCleaning         TaskState = "cleaning"          // Worktree teardown in flight
)

// AllTaskStates returns all valid task states.
func AllTaskStates() []TaskState {
	return []TaskState{
		TaskStateQueued,
		TaskStateCreatingWorktree,
		TaskStateRunning,
		TaskStateReview,
		TaskStateCompleted,
		TaskStateFailed,
		TaskStateCleaning,
	}
}

// transitions defines the allowed state transitions.
// Flow: queued → creating_worktree → running → review → completed
//
//	failed is reachable from every non-terminal state.
//	cleaning is entered from review/completed/failed and exits back to one of them.
var transitions = map[TaskState][]TaskState{
	TaskStateQueued:           {TaskStateCreatingWorktree, TaskStateFailed},
	TaskStateCreatingWorktree: {TaskStateRunning, TaskStateFailed},
	TaskStateRunning:          {TaskStateReview, TaskStateFailed},
	TaskStateReview:           {TaskStateRunning, TaskStateCompleted, TaskStateCleaning, TaskStateFailed},
	TaskStateCompleted:        {TaskStateCleaning},
	TaskStateFailed:           {TaskStateCleaning},
	TaskStateCleaning:         {TaskStateReview, TaskStateCompleted, TaskStateFailed},
}

// CanTransitionTo returns true if the state can transition to the target state.
func (s TaskState) CanTransitionTo(target TaskState) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the task is no longer actionable.
// cleaning is deliberately not terminal: teardown must finish first.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// CanCleanup returns true if a worktree cleanup may start from this state.
func (s TaskState) CanCleanup() bool {
	return s.CanTransitionTo(TaskStateCleaning)
}

// Display returns a human-readable representation of the state.
func (s TaskState) Display() string {
	switch s {
	case TaskStateQueued:
		return "Queued"
	case TaskStateCreatingWorktree:
		return "Creating Worktree"
	case TaskStateRunning:
		return "Running"
	case TaskStateReview:
		return "Review"
	case TaskStateCompleted:
		return "Completed"
	case TaskStateFailed:
		return "Failed"
	case TaskStateCleaning:
		return "Cleaning"
	default:
		return string(s)
	}
}

// IsValid returns true if the state is a known value.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateQueued, TaskStateCreatingWorktree, TaskStateRunning, TaskStateReview,
		TaskStateCompleted, TaskStateFailed, TaskStateCleaning:
		return true
	default:
		return false
	}
}
