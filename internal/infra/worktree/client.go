// Package worktree provides a local runtime worktree backend on top of git worktrees.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/infra/executor"
	"github.com/ikanban/ikanban/internal/infra/git"
)

// Client implements domain.WorktreeAPI by running git worktree commands
// against the project repository. Worktrees live under <project>/.worktrees.
type Client struct {
	git    *git.Client
	runner domain.ProcessRunner
}

// NewClient creates a new worktree client.
func NewClient(gitClient *git.Client, runner domain.ProcessRunner) *Client {
	return &Client{git: gitClient, runner: runner}
}

// Ensure Client implements domain.WorktreeAPI interface.
var _ domain.WorktreeAPI = (*Client)(nil)

// entry is one record of `git worktree list --porcelain`.
type entry struct {
	Path   string
	Branch string
}

// Create adds a worktree named req.Name on branch ikanban/<name>.
// An existing branch is checked out as-is; otherwise it is created from HEAD.
// If a start command is set it runs inside the new worktree, and the worktree
// is removed again when the command fails.
func (c *Client) Create(ctx context.Context, req domain.WorktreeCreateRequest) (domain.Response[domain.WorktreeInfo], error) {
	path := domain.WorktreePath(req.Directory, req.Name)
	branch := domain.WorktreeBranchName(req.Name)

	if err := c.ensureExcluded(ctx, req.Directory); err != nil {
		return domain.Response[domain.WorktreeInfo]{}, err
	}

	branchExists, err := c.git.BranchExists(ctx, req.Directory, branch)
	if err != nil {
		return domain.Response[domain.WorktreeInfo]{}, fmt.Errorf("check branch exists: %w", err)
	}

	var args []string
	if branchExists {
		args = []string{"worktree", "add", path, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, path, "HEAD"}
	}

	if _, err := c.git.Run(ctx, req.Directory, args...); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return domain.Failed[domain.WorktreeInfo](err.Error()), nil
		}
		// Registered but directory is missing: prune stale entries and retry
		if pruneErr := c.prune(ctx, req.Directory); pruneErr != nil {
			return domain.Response[domain.WorktreeInfo]{}, pruneErr
		}
		if _, err := c.git.Run(ctx, req.Directory, args...); err != nil {
			return domain.Failed[domain.WorktreeInfo](err.Error()), nil
		}
	}

	if cmd := strings.TrimSpace(req.StartCommand); cmd != "" {
		res, err := c.runner.Run(ctx, executor.ShellCommand(cmd, path))
		if err == nil && res.ExitCode != 0 {
			err = fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		if err != nil {
			_, _ = c.git.Run(ctx, req.Directory, "worktree", "remove", "--force", path)
			if !branchExists {
				_ = c.git.DeleteBranch(ctx, req.Directory, branch)
			}
			return domain.Failed[domain.WorktreeInfo](fmt.Sprintf("start command failed: %v", err)), nil
		}
	}

	return domain.OK(domain.WorktreeInfo{
		Name:      req.Name,
		Branch:    branch,
		Directory: path,
	}), nil
}

// List returns the directories of the linked worktrees of a project.
// The main working tree is not included.
func (c *Client) List(ctx context.Context, projectDirectory string) (domain.Response[[]string], error) {
	entries, err := c.list(ctx, projectDirectory)
	if err != nil {
		return domain.Response[[]string]{}, err
	}
	dirs := make([]string, 0, len(entries))
	for i, e := range entries {
		if i == 0 {
			continue
		}
		dirs = append(dirs, e.Path)
	}
	return domain.OK(dirs), nil
}

// Reset discards every change in a worktree, including untracked files.
func (c *Client) Reset(ctx context.Context, req domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	e, err := c.find(ctx, req)
	if err != nil {
		return domain.Response[bool]{}, err
	}
	if e == nil {
		return domain.Failed[bool](fmt.Sprintf("worktree %s is not registered", req.WorktreeDirectory)), nil
	}
	if _, err := c.git.Run(ctx, e.Path, "reset", "--hard", "HEAD"); err != nil {
		return domain.Failed[bool](err.Error()), nil
	}
	if _, err := c.git.Run(ctx, e.Path, "clean", "-fd"); err != nil {
		return domain.Failed[bool](err.Error()), nil
	}
	return domain.OK(true), nil
}

// Remove deletes a worktree even if it has uncommitted changes.
// Returns false when the directory is not a registered worktree of the project.
func (c *Client) Remove(ctx context.Context, req domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	e, err := c.find(ctx, req)
	if err != nil {
		return domain.Response[bool]{}, err
	}
	if e == nil {
		return domain.OK(false), nil
	}
	if _, err := c.git.Run(ctx, req.Directory, "worktree", "remove", "--force", e.Path); err != nil {
		return domain.Failed[bool](err.Error()), nil
	}
	return domain.OK(true), nil
}

func (c *Client) find(ctx context.Context, req domain.WorktreeTargetRequest) (*entry, error) {
	entries, err := c.list(ctx, req.Directory)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if i == 0 {
			continue
		}
		if samePath(e.Path, req.WorktreeDirectory) {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (c *Client) list(ctx context.Context, projectDirectory string) ([]entry, error) {
	out, err := c.git.Run(ctx, projectDirectory, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(out)
}

// parseWorktreeList parses the porcelain output of git worktree list.
// Format:
//
//	worktree /path/to/worktree
//	HEAD abc123
//	branch refs/heads/branch-name
//	<blank line>
func parseWorktreeList(output string) ([]entry, error) {
	var worktrees []entry
	var current entry

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = entry{}
		}
	}

	// Last entry without trailing newline
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}

	return worktrees, nil
}

// prune removes registrations whose directory no longer exists.
func (c *Client) prune(ctx context.Context, projectDirectory string) error {
	if _, err := c.git.Run(ctx, projectDirectory, "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// ensureExcluded keeps the worktrees directory out of the project's git status.
func (c *Client) ensureExcluded(ctx context.Context, projectDirectory string) error {
	out, err := c.git.Run(ctx, projectDirectory, "rev-parse", "--git-common-dir")
	if err != nil {
		return domain.ErrNotGitRepository
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(projectDirectory, gitDir)
	}

	pattern := "/" + domain.WorktreesDirName + "/"
	excludePath := filepath.Join(gitDir, "info", "exclude")
	content, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read exclude file: %w", err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return fmt.Errorf("create exclude dir: %w", err)
	}
	f, err := os.OpenFile(excludePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open exclude file: %w", err)
	}
	defer f.Close()

	prefix := ""
	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + pattern + "\n"); err != nil {
		return fmt.Errorf("write exclude file: %w", err)
	}
	return nil
}

// samePath compares two paths, resolving symlinks when both exist.
func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
