package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskRuntime is the in-memory runtime record of a task.
// Fields are ordered to minimize memory padding.
type TaskRuntime struct {
	CreatedAt         time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt" yaml:"updatedAt"`
	TaskID            string    `json:"taskId" yaml:"taskId"`
	ProjectID         string    `json:"projectId" yaml:"projectId"`
	Title             string    `json:"title,omitempty" yaml:"title,omitempty"`
	InitialPrompt     string    `json:"initialPrompt,omitempty" yaml:"initialPrompt,omitempty"`
	State             TaskState `json:"state" yaml:"state"`
	SessionID         string    `json:"sessionID,omitempty" yaml:"sessionID,omitempty"`
	WorktreeDirectory string    `json:"worktreeDirectory,omitempty" yaml:"worktreeDirectory,omitempty"`
	Error             string    `json:"error,omitempty" yaml:"error,omitempty"`
	ParentTaskID      string    `json:"parentTaskId,omitempty" yaml:"parentTaskId,omitempty"`
	Attempt           int       `json:"attempt" yaml:"attempt"`
}

// Clone returns a copy that callers may mutate freely.
func (t *TaskRuntime) Clone() *TaskRuntime {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// HasWorktree returns true if a worktree directory is recorded.
func (t *TaskRuntime) HasWorktree() bool {
	return t.WorktreeDirectory != ""
}

// retrySeparator joins the root task id and the attempt number.
const retrySeparator = "-retry-"

// DeriveRetryTaskID returns the task id used for the given retry attempt.
// The root id is kept so that every attempt of a task shares a prefix.
// Format: <root>-retry-<attempt>
func DeriveRetryTaskID(taskID string, attempt int) string {
	return fmt.Sprintf("%s%s%d", RootTaskID(taskID), retrySeparator, attempt)
}

// RootTaskID strips a numeric retry suffix from a task id.
func RootTaskID(taskID string) string {
	root, _, _ := ParseRetryTaskID(taskID)
	return root
}

// ParseRetryTaskID splits <root>-retry-<n> into its root and attempt number.
// Ids without a numeric retry suffix are returned unchanged with ok false.
func ParseRetryTaskID(taskID string) (root string, n int, ok bool) {
	i := strings.LastIndex(taskID, retrySeparator)
	if i <= 0 {
		return taskID, 0, false
	}
	n, err := strconv.Atoi(taskID[i+len(retrySeparator):])
	if err != nil || n < 1 {
		return taskID, 0, false
	}
	return taskID[:i], n, true
}
