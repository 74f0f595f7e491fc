package domain

import (
	"fmt"
	"time"
)

// ManagedWorktree is a worktree owned by a task.
type ManagedWorktree struct {
	CreatedAt        time.Time
	TaskID           string
	ProjectDirectory string
	Name             string
	Branch           string
	Directory        string
}

// CleanupPolicy decides what happens to a task worktree on cleanup.
type CleanupPolicy string

const (
	CleanupKeep   CleanupPolicy = "keep"
	CleanupRemove CleanupPolicy = "remove"
)

// ParseCleanupPolicy parses a policy string. Empty falls back to keep.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch CleanupPolicy(s) {
	case "":
		return CleanupKeep, nil
	case CleanupKeep, CleanupRemove:
		return CleanupPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown cleanup policy %q (want keep or remove): %w", s, ErrValidation)
	}
}

// ShouldRemove reports whether the policy removes the worktree.
func (p CleanupPolicy) ShouldRemove() bool {
	return p == CleanupRemove
}

// CreateTaskWorktreeInput configures worktree creation.
type CreateTaskWorktreeInput struct {
	Timestamp        time.Time // Name timestamp (zero = now)
	ProjectID        string    // Optional; carried on worktree events
	ProjectDirectory string
	TaskID           string
	StartCommand     string // Optional command run inside the new worktree
}

// CleanupTaskWorktreeInput configures worktree cleanup.
type CleanupTaskWorktreeInput struct {
	ProjectID         string // Optional; carried on worktree events
	ProjectDirectory  string
	TaskID            string
	Policy            CleanupPolicy
	WorktreeDirectory string // Optional; falls back to the manager's mapping
}

// CleanupTaskWorktreeResult reports what cleanup did.
type CleanupTaskWorktreeResult struct {
	Policy            CleanupPolicy
	TaskID            string
	WorktreeDirectory string // Empty if nothing was resolved
	Removed           bool
}

// MergeTaskWorktreeInput configures a squash merge.
type MergeTaskWorktreeInput struct {
	ProjectDirectory  string
	TaskID            string
	WorktreeDirectory string
}

// MergeTaskWorktreeResult reports the outcome of a merge.
type MergeTaskWorktreeResult struct {
	Branch        string
	BaseBranch    string
	Commit        string // Squash commit hash, empty if nothing was merged
	AheadCommits  int
	Merged        bool
	AutoCommitted bool // Uncommitted worktree changes were committed first
}

// DiffTaskWorktreeInput configures a diff.
type DiffTaskWorktreeInput struct {
	ProjectDirectory  string
	TaskID            string
	WorktreeDirectory string
}

// DiffMode tells which side of the worktree a diff was taken from.
type DiffMode string

const (
	DiffModeWorkingTree DiffMode = "working_tree" // Uncommitted edits vs default branch
	DiffModeBranch      DiffMode = "branch"       // <default>...<branch>
)

// TaskWorktreeDiff is the pending change set of a task.
type TaskWorktreeDiff struct {
	Mode       DiffMode
	Branch     string
	BaseBranch string
	Diff       string
}

// IsEmpty returns true if there is nothing to review.
func (d *TaskWorktreeDiff) IsEmpty() bool {
	return d.Diff == ""
}
