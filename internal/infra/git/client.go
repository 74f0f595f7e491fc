// Package git provides git operations on top of the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ikanban/ikanban/internal/domain"
)

// CommandError is returned when git exits with a non-zero status.
type CommandError struct {
	Command  string
	Stderr   string
	ExitCode int
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}

// Client provides git operations for any directory.
// Every operation runs git -C <dir>, so one client serves all projects and worktrees.
type Client struct {
	runner domain.ProcessRunner
}

// NewClient creates a git client backed by runner.
func NewClient(runner domain.ProcessRunner) *Client {
	return &Client{runner: runner}
}

// Ensure Client implements domain.Git interface.
var _ domain.Git = (*Client)(nil)

// Run executes git in dir and returns stdout.
// A non-zero exit is returned as *CommandError.
func (c *Client) Run(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := c.exec(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", c.commandError(dir, args, res)
	}
	return res.Stdout, nil
}

func (c *Client) exec(ctx context.Context, dir string, args ...string) (domain.ExecResult, error) {
	cmd := &domain.ExecCommand{
		Program: "git",
		Args:    append([]string{"-C", dir}, args...),
	}
	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", cmd.String(), err)
	}
	return res, nil
}

func (c *Client) commandError(dir string, args []string, res domain.ExecResult) *CommandError {
	return &CommandError{
		Command:  "git -C " + dir + " " + strings.Join(args, " "),
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}
}

// Toplevel returns the root of the working tree containing dir.
// Returns ErrNotGitRepository if dir is not inside a git repository.
func (c *Client) Toplevel(ctx context.Context, dir string) (string, error) {
	out, err := c.Run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return "", domain.ErrNotGitRepository
		}
		return "", err
	}
	return filepath.Clean(strings.TrimSpace(out)), nil
}

// CurrentBranch returns the name of the checked-out branch in dir.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// BranchExists checks if a local branch exists.
func (c *Client) BranchExists(ctx context.Context, dir, branch string) (bool, error) {
	args := []string{"show-ref", "--verify", "--quiet", "refs/heads/" + branch}
	res, err := c.exec(ctx, dir, args...)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		// Exit code 1 means ref not found
		return false, nil
	default:
		return false, fmt.Errorf("check branch existence: %w", c.commandError(dir, args, res))
	}
}

// HasUncommittedChanges checks for staged, unstaged or untracked changes in dir.
func (c *Client) HasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	out, err := c.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("check uncommitted changes: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// HasStagedChanges checks whether the index differs from HEAD.
func (c *Client) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	args := []string{"diff", "--cached", "--quiet"}
	res, err := c.exec(ctx, dir, args...)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("check staged changes: %w", c.commandError(dir, args, res))
	}
}

// AheadCommits counts commits reachable from branch but not from base.
func (c *Client) AheadCommits(ctx context.Context, dir, base, branch string) (int, error) {
	out, err := c.Run(ctx, dir, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, fmt.Errorf("count commits ahead of %s: %w", base, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", strings.TrimSpace(out), err)
	}
	return n, nil
}

// CommitAll stages every change in dir and commits it.
func (c *Client) CommitAll(ctx context.Context, dir, message string) error {
	if _, err := c.Run(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	return c.Commit(ctx, dir, message)
}

// SquashMerge stages the net changes of branch into dir without committing.
func (c *Client) SquashMerge(ctx context.Context, dir, branch string) error {
	if _, err := c.Run(ctx, dir, "merge", "--squash", branch); err != nil {
		return fmt.Errorf("squash merge %s: %w", branch, err)
	}
	return nil
}

// AbortMerge resets the index and the files touched by an uncommitted merge.
func (c *Client) AbortMerge(ctx context.Context, dir string) error {
	if _, err := c.Run(ctx, dir, "reset", "--merge"); err != nil {
		return fmt.Errorf("abort merge: %w", err)
	}
	return nil
}

// Commit commits the index of dir.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	if _, err := c.Run(ctx, dir, "commit", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// HeadCommit returns the full hash of HEAD in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// DiffWorkingTree diffs the working tree of dir against base.
// Untracked files are not included.
func (c *Client) DiffWorkingTree(ctx context.Context, dir, base string) (string, error) {
	out, err := c.Run(ctx, dir, "diff", "--no-color", base, "--")
	if err != nil {
		return "", fmt.Errorf("diff working tree against %s: %w", base, err)
	}
	return out, nil
}

// DiffBranches diffs branch against its merge base with base.
func (c *Client) DiffBranches(ctx context.Context, dir, base, branch string) (string, error) {
	out, err := c.Run(ctx, dir, "diff", "--no-color", base+"..."+branch, "--")
	if err != nil {
		return "", fmt.Errorf("diff %s...%s: %w", base, branch, err)
	}
	return out, nil
}

// DeleteBranch force-deletes a local branch.
func (c *Client) DeleteBranch(ctx context.Context, dir, branch string) error {
	if _, err := c.Run(ctx, dir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}
