package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RuntimeClientProvider hands out runtime clients scoped to a directory.
type RuntimeClientProvider interface {
	// Client returns the client for an absolute directory.
	Client(ctx context.Context, directory string) (RuntimeClient, error)
}

// RuntimeClient is the agent runtime API as seen from one directory.
type RuntimeClient interface {
	Worktrees() WorktreeAPI
	Sessions() SessionAPI
	Events() EventAPI
}

// WorktreeAPI creates and removes worktrees of a project.
type WorktreeAPI interface {
	Create(ctx context.Context, req WorktreeCreateRequest) (Response[WorktreeInfo], error)
	List(ctx context.Context, projectDirectory string) (Response[[]string], error)
	Reset(ctx context.Context, req WorktreeTargetRequest) (Response[bool], error)
	Remove(ctx context.Context, req WorktreeTargetRequest) (Response[bool], error)
}

// WorktreeCreateRequest asks the runtime to create a named worktree.
type WorktreeCreateRequest struct {
	Directory    string // Project directory
	Name         string
	StartCommand string
}

// WorktreeTargetRequest addresses one worktree of a project.
type WorktreeTargetRequest struct {
	Directory         string // Project directory
	WorktreeDirectory string
}

// WorktreeInfo is what the runtime reports for a created worktree.
type WorktreeInfo struct {
	Name      string `json:"name"`
	Branch    string `json:"branch"`
	Directory string `json:"directory"`
}

// SessionAPI manages agent conversation sessions.
type SessionAPI interface {
	Create(ctx context.Context, req SessionCreateRequest) (Response[SessionPayload], error)
	Prompt(ctx context.Context, req PromptRequest) (Response[json.RawMessage], error)
	Messages(ctx context.Context, sessionID string) (Response[[]json.RawMessage], error)
}

// SessionCreateRequest asks the runtime to open a session in a directory.
type SessionCreateRequest struct {
	Directory string `json:"-"`
	Title     string `json:"title,omitempty"`
}

// SessionPayload is the session object returned by the runtime.
// The runtime does not consistently name the id field, so both are accepted.
type SessionPayload struct {
	Time      *SessionTime `json:"time,omitempty"`
	CreatedAt *int64       `json:"createdAt,omitempty"`
	UpdatedAt *int64       `json:"updatedAt,omitempty"`
	ID        string       `json:"id,omitempty"`
	SessionID string       `json:"sessionID,omitempty"`
	Title     string       `json:"title,omitempty"`
}

// SessionTime is the nested timestamp object (unix ms).
type SessionTime struct {
	Created *int64 `json:"created,omitempty"`
	Updated *int64 `json:"updated,omitempty"`
}

// PromptPart is one part of a prompt body.
type PromptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PromptRequest submits parts to a session.
type PromptRequest struct {
	Model     *ModelRef    `json:"model,omitempty"`
	SessionID string       `json:"-"`
	Parts     []PromptPart `json:"parts"`
}

// EventAPI opens the runtime event stream of a directory.
type EventAPI interface {
	Subscribe(ctx context.Context, directory string) (Response[EventStream], error)
}

// EventStream is a handle over a runtime event stream.
// Runtimes expose either a callback-style Close, an iterator-style Next, or both.
// Next returns io.EOF when the stream ends.
type EventStream struct {
	Close func() error
	Next  func(ctx context.Context) (RuntimeStreamEvent, error)
}

// ExecResult is the outcome of a finished process.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessRunner runs external processes.
type ProcessRunner interface {
	// Run executes cmd and waits for it. A non-zero exit is not an error here;
	// err is only set when the process could not run.
	Run(ctx context.Context, cmd *ExecCommand) (ExecResult, error)
}

// Git provides the typed git helpers the worktree manager composes.
type Git interface {
	// CurrentBranch returns the checked-out branch of dir.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// HasUncommittedChanges checks for staged, unstaged or untracked changes.
	HasUncommittedChanges(ctx context.Context, dir string) (bool, error)

	// HasStagedChanges checks whether the index differs from HEAD.
	HasStagedChanges(ctx context.Context, dir string) (bool, error)

	// AheadCommits counts commits on branch that are not on base.
	AheadCommits(ctx context.Context, dir, base, branch string) (int, error)

	// CommitAll stages everything and commits it.
	CommitAll(ctx context.Context, dir, message string) error

	// SquashMerge stages the net changes of branch without committing.
	SquashMerge(ctx context.Context, dir, branch string) error

	// AbortMerge resets a failed or empty squash merge.
	AbortMerge(ctx context.Context, dir string) error

	// Commit commits the index.
	Commit(ctx context.Context, dir, message string) error

	// HeadCommit returns the hash of HEAD.
	HeadCommit(ctx context.Context, dir string) (string, error)

	// DiffWorkingTree diffs the working tree of dir against base.
	DiffWorkingTree(ctx context.Context, dir, base string) (string, error)

	// DiffBranches diffs base...branch (merge-base relative).
	DiffBranches(ctx context.Context, dir, base, branch string) (string, error)

	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, dir, branch string) error
}

// TaskWorktrees is the worktree manager as used by the orchestrator.
type TaskWorktrees interface {
	CreateTaskWorktree(ctx context.Context, in CreateTaskWorktreeInput) (*ManagedWorktree, error)
	CleanupTaskWorktree(ctx context.Context, in CleanupTaskWorktreeInput) (*CleanupTaskWorktreeResult, error)
	MergeTaskWorktree(ctx context.Context, in MergeTaskWorktreeInput) (*MergeTaskWorktreeResult, error)
	GetTaskWorktreeDiff(ctx context.Context, in DiffTaskWorktreeInput) (*TaskWorktreeDiff, error)
}

// TaskConversations is the conversation manager as used by the orchestrator.
type TaskConversations interface {
	CreateTaskSession(ctx context.Context, in CreateSessionInput) (*ConversationSessionMeta, error)
	SendInitialPrompt(ctx context.Context, in SendPromptInput) (*PromptSubmission, error)
	SendFollowUpPrompt(ctx context.Context, in SendPromptInput) (*PromptSubmission, error)
	ListConversationMessages(ctx context.Context, in ListMessagesInput) ([]ConversationMessageMeta, error)
	SubscribeToEvents(ctx context.Context, in SubscribeInput) (*Subscription, error)
}

// ProjectRegistry stores registered projects.
type ProjectRegistry interface {
	// Get returns a project by id, or ErrProjectNotFound.
	Get(id string) (*ProjectRef, error)

	// List returns all projects ordered by creation time.
	List() ([]*ProjectRef, error)

	// Register adds a project rooted at an absolute directory.
	Register(name, rootDirectory string) (*ProjectRef, error)

	// Remove deletes a project registration.
	Remove(id string) error
}

// TaskStore persists task runtime snapshots.
type TaskStore interface {
	// Save creates or updates a snapshot.
	Save(task *TaskRuntime) error

	// Delete removes a snapshot.
	Delete(projectID, taskID string) error

	// List returns every stored snapshot.
	List() ([]*TaskRuntime, error)
}

// Logger writes diagnostic lines, optionally scoped to a task.
type Logger interface {
	Debug(taskID, category, msg string)
	Info(taskID, category, msg string)
	Warn(taskID, category, msg string)
	Error(taskID, category, msg string)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(_, _, _ string) {}
func (NopLogger) Info(_, _, _ string)  {}
func (NopLogger) Warn(_, _, _ string)  {}
func (NopLogger) Error(_, _, _ string) {}

// ConfigLoader loads configuration files.
type ConfigLoader interface {
	// Load returns the merged configuration (default <- global <- project).
	// projectDir may be empty to skip the project override.
	Load(projectDir string) (*Config, error)
}

// Clock provides time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}
