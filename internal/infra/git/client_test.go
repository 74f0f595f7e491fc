package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/infra/executor"
)

// setupGitRepo creates a temporary git repository on branch main with one commit.
func setupGitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	runGit(t, dir, "init")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "commit.gpgsign", "false")

	writeFile(t, dir, "README.md", "# Test\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")

	return dir
}

// runGit executes a git command and fails the test if it errors.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// addBranchWorktree creates a worktree on a new branch and returns its path.
func addBranchWorktree(t *testing.T, repo, branch string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wt")
	runGit(t, repo, "worktree", "add", "-b", branch, path)
	return path
}

func newTestClient() *Client {
	return NewClient(executor.NewClient())
}

// =============================================================================
// Toplevel / CurrentBranch
// =============================================================================

func TestClient_Toplevel(t *testing.T) {
	dir := setupGitRepo(t)
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	top, err := newTestClient().Toplevel(context.Background(), sub)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(top)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClient_Toplevel_NotGitRepo(t *testing.T) {
	_, err := newTestClient().Toplevel(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrNotGitRepository)
}

func TestClient_CurrentBranch(t *testing.T) {
	dir := setupGitRepo(t)
	c := newTestClient()

	branch, err := c.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	wt := addBranchWorktree(t, dir, "feature")
	branch, err = c.CurrentBranch(context.Background(), wt)
	require.NoError(t, err)
	assert.Equal(t, "feature", branch)
}

func TestClient_BranchExists(t *testing.T) {
	dir := setupGitRepo(t)
	c := newTestClient()
	ctx := context.Background()

	ok, err := c.BranchExists(ctx, dir, "main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.BranchExists(ctx, dir, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// Change detection
// =============================================================================

func TestClient_HasUncommittedChanges(t *testing.T) {
	dir := setupGitRepo(t)
	c := newTestClient()
	ctx := context.Background()

	dirty, err := c.HasUncommittedChanges(ctx, dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "untracked.txt", "x")
	dirty, err = c.HasUncommittedChanges(ctx, dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestClient_HasStagedChanges(t *testing.T) {
	dir := setupGitRepo(t)
	c := newTestClient()
	ctx := context.Background()

	writeFile(t, dir, "README.md", "# Changed\n")
	staged, err := c.HasStagedChanges(ctx, dir)
	require.NoError(t, err)
	assert.False(t, staged, "unstaged edits are not staged changes")

	runGit(t, dir, "add", "README.md")
	staged, err = c.HasStagedChanges(ctx, dir)
	require.NoError(t, err)
	assert.True(t, staged)
}

// =============================================================================
// Commit / merge
// =============================================================================

func TestClient_CommitAllAndAheadCommits(t *testing.T) {
	repo := setupGitRepo(t)
	wt := addBranchWorktree(t, repo, "feature")
	c := newTestClient()
	ctx := context.Background()

	ahead, err := c.AheadCommits(ctx, repo, "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, 0, ahead)

	writeFile(t, wt, "feature.txt", "feature\n")
	require.NoError(t, c.CommitAll(ctx, wt, "add feature"))

	ahead, err = c.AheadCommits(ctx, repo, "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)

	dirty, err := c.HasUncommittedChanges(ctx, wt)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestClient_SquashMergeAndCommit(t *testing.T) {
	repo := setupGitRepo(t)
	wt := addBranchWorktree(t, repo, "feature")
	c := newTestClient()
	ctx := context.Background()

	writeFile(t, wt, "a.txt", "a\n")
	require.NoError(t, c.CommitAll(ctx, wt, "a"))
	writeFile(t, wt, "b.txt", "b\n")
	require.NoError(t, c.CommitAll(ctx, wt, "b"))

	before, err := c.HeadCommit(ctx, repo)
	require.NoError(t, err)

	require.NoError(t, c.SquashMerge(ctx, repo, "feature"))
	staged, err := c.HasStagedChanges(ctx, repo)
	require.NoError(t, err)
	require.True(t, staged)

	require.NoError(t, c.Commit(ctx, repo, "squash feature"))
	after, err := c.HeadCommit(ctx, repo)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Len(t, after, 40)

	log := runGit(t, repo, "log", "--format=%s", "-n", "2")
	assert.Equal(t, "squash feature\nInitial commit\n", log)
	assert.FileExists(t, filepath.Join(repo, "a.txt"))
	assert.FileExists(t, filepath.Join(repo, "b.txt"))
}

func TestClient_AbortMerge(t *testing.T) {
	repo := setupGitRepo(t)
	wt := addBranchWorktree(t, repo, "feature")
	c := newTestClient()
	ctx := context.Background()

	writeFile(t, wt, "a.txt", "a\n")
	require.NoError(t, c.CommitAll(ctx, wt, "a"))
	require.NoError(t, c.SquashMerge(ctx, repo, "feature"))

	require.NoError(t, c.AbortMerge(ctx, repo))

	staged, err := c.HasStagedChanges(ctx, repo)
	require.NoError(t, err)
	assert.False(t, staged)
	assert.NoFileExists(t, filepath.Join(repo, "a.txt"))
}

func TestClient_SquashMerge_UnknownBranch(t *testing.T) {
	repo := setupGitRepo(t)

	err := newTestClient().SquashMerge(context.Background(), repo, "missing")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.NotZero(t, cmdErr.ExitCode)
	assert.Contains(t, cmdErr.Command, "merge --squash missing")
}

// =============================================================================
// Diff / branches
// =============================================================================

func TestClient_DiffWorkingTreeAndBranches(t *testing.T) {
	repo := setupGitRepo(t)
	wt := addBranchWorktree(t, repo, "feature")
	c := newTestClient()
	ctx := context.Background()

	writeFile(t, wt, "README.md", "# Feature\n")

	diff, err := c.DiffWorkingTree(ctx, wt, "main")
	require.NoError(t, err)
	assert.Contains(t, diff, "+# Feature")

	empty, err := c.DiffBranches(ctx, repo, "main", "feature")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(empty))

	require.NoError(t, c.CommitAll(ctx, wt, "feature readme"))
	diff, err = c.DiffBranches(ctx, repo, "main", "feature")
	require.NoError(t, err)
	assert.Contains(t, diff, "+# Feature")
}

func TestClient_DeleteBranch(t *testing.T) {
	repo := setupGitRepo(t)
	runGit(t, repo, "branch", "topic")
	c := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.DeleteBranch(ctx, repo, "topic"))
	ok, err := c.BranchExists(ctx, repo, "topic")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.DeleteBranch(ctx, repo, "topic"))
}

func TestCommandError_Error(t *testing.T) {
	err := &CommandError{Command: "git -C /r status", Stderr: "fatal: boom\n", ExitCode: 128}
	assert.Equal(t, "git -C /r status: exit status 128: fatal: boom", err.Error())

	err = &CommandError{Command: "git -C /r status", ExitCode: 1}
	assert.Equal(t, "git -C /r status: exit status 1", err.Error())
}
