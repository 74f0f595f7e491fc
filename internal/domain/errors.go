package domain

import "errors"

// Domain errors.
var (
	ErrValidation              = errors.New("validation failed")
	ErrTaskNotFound            = errors.New("task not found")
	ErrTaskActive              = errors.New("task already has an active runtime")
	ErrTaskExists              = errors.New("task id already in use")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrProjectNotFound         = errors.New("project not found")
	ErrProjectExists           = errors.New("project already registered")
	ErrNoWorktree              = errors.New("task has no worktree")
	ErrNoSession               = errors.New("task has no session")
	ErrSessionDirectoryUnknown = errors.New("worktree directory is unknown for session")
	ErrNoResponseData          = errors.New("response did not include data")
	ErrNotGitRepository        = errors.New("not a git repository")
	ErrNotRetryable            = errors.New("only failed tasks can be retried")
	ErrConfigExists            = errors.New("config file already exists")
)
