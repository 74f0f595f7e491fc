package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanban/ikanban/internal/domain"
	"github.com/ikanban/ikanban/internal/infra/executor"
	"github.com/ikanban/ikanban/internal/infra/git"
)

// setupTestRepo creates a repository on main with one commit and returns its resolved path.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	for _, args := range [][]string{
		{"init"},
		{"symbolic-ref", "HEAD", "refs/heads/main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
		{"config", "commit.gpgsign", "false"},
	} {
		runGit(t, dir, args...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "Initial commit")

	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
	return string(out)
}

func newTestClient() *Client {
	runner := executor.NewClient()
	return NewClient(git.NewClient(runner), runner)
}

func TestClient_Create_NewBranch(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()
	ctx := context.Background()

	resp, err := c.Create(ctx, domain.WorktreeCreateRequest{Directory: repo, Name: "task-a-1"})
	require.NoError(t, err)
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)

	assert.Equal(t, "task-a-1", info.Name)
	assert.Equal(t, "ikanban/task-a-1", info.Branch)
	assert.Equal(t, filepath.Join(repo, ".worktrees", "task-a-1"), info.Directory)
	assert.DirExists(t, info.Directory)
	assert.FileExists(t, filepath.Join(info.Directory, "README.md"))

	branch := runGit(t, info.Directory, "rev-parse", "--abbrev-ref", "HEAD")
	assert.Equal(t, "ikanban/task-a-1\n", branch)

	// Project status stays clean
	status := runGit(t, repo, "status", "--porcelain")
	assert.Empty(t, status)
}

func TestClient_Create_ExistingBranch(t *testing.T) {
	repo := setupTestRepo(t)
	runGit(t, repo, "branch", "ikanban/task-b-1")
	c := newTestClient()

	resp, err := c.Create(context.Background(), domain.WorktreeCreateRequest{Directory: repo, Name: "task-b-1"})
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)
	assert.DirExists(t, info.Directory)
}

func TestClient_Create_StartCommand(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()

	resp, err := c.Create(context.Background(), domain.WorktreeCreateRequest{
		Directory:    repo,
		Name:         "task-c-1",
		StartCommand: "echo ready > .setup-done",
	})
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(info.Directory, ".setup-done"))
}

func TestClient_Create_StartCommandFailureRemovesWorktree(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()
	ctx := context.Background()

	resp, err := c.Create(ctx, domain.WorktreeCreateRequest{
		Directory:    repo,
		Name:         "task-d-1",
		StartCommand: "echo nope >&2; exit 1",
	})
	require.NoError(t, err)
	_, err = domain.Unwrap(resp, nil, "create worktree")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start command failed")

	assert.NoDirExists(t, filepath.Join(repo, ".worktrees", "task-d-1"))
	branches := runGit(t, repo, "branch", "--list", "ikanban/task-d-1")
	assert.Empty(t, branches)
}

func TestClient_Create_OrphanedWorktree(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()
	ctx := context.Background()

	resp, err := c.Create(ctx, domain.WorktreeCreateRequest{Directory: repo, Name: "task-e-1"})
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)

	// Delete the directory behind git's back
	require.NoError(t, os.RemoveAll(info.Directory))

	resp, err = c.Create(ctx, domain.WorktreeCreateRequest{Directory: repo, Name: "task-e-1"})
	info, err = domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)
	assert.DirExists(t, info.Directory)
}

func TestClient_ListAndRemove(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()
	ctx := context.Background()

	resp, err := c.Create(ctx, domain.WorktreeCreateRequest{Directory: repo, Name: "task-f-1"})
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)

	listResp, err := c.List(ctx, repo)
	listed, err := domain.Unwrap(listResp, err, "list worktrees")
	require.NoError(t, err)
	assert.Equal(t, []string{info.Directory}, listed)

	// Dirty worktrees are removed too
	require.NoError(t, os.WriteFile(filepath.Join(info.Directory, "scratch.txt"), []byte("x"), 0o644))

	target := domain.WorktreeTargetRequest{Directory: repo, WorktreeDirectory: info.Directory}
	removeResp, err := c.Remove(ctx, target)
	removed, err := domain.Unwrap(removeResp, err, "remove worktree")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, info.Directory)

	removeResp, err = c.Remove(ctx, target)
	removed, err = domain.Unwrap(removeResp, err, "remove worktree")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestClient_Remove_MainWorktreeIsNotRemoved(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()

	resp, err := c.Remove(context.Background(), domain.WorktreeTargetRequest{Directory: repo, WorktreeDirectory: repo})
	removed, err := domain.Unwrap(resp, err, "remove worktree")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, repo)
}

func TestClient_Reset(t *testing.T) {
	repo := setupTestRepo(t)
	c := newTestClient()
	ctx := context.Background()

	resp, err := c.Create(ctx, domain.WorktreeCreateRequest{Directory: repo, Name: "task-g-1"})
	info, err := domain.Unwrap(resp, err, "create worktree")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info.Directory, "README.md"), []byte("changed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(info.Directory, "new.txt"), []byte("x"), 0o644))

	resetResp, err := c.Reset(ctx, domain.WorktreeTargetRequest{Directory: repo, WorktreeDirectory: info.Directory})
	ok, err := domain.Unwrap(resetResp, err, "reset worktree")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Empty(t, runGit(t, info.Directory, "status", "--porcelain"))

	resetResp, err = c.Reset(ctx, domain.WorktreeTargetRequest{Directory: repo, WorktreeDirectory: "/nowhere"})
	_, err = domain.Unwrap(resetResp, err, "reset worktree")
	assert.ErrorIs(t, err, domain.ErrRuntimeResponse)
}

func TestParseWorktreeList(t *testing.T) {
	input := `worktree /path/to/main
HEAD abc123def456
branch refs/heads/main

worktree /path/to/feature
HEAD def456abc123
branch refs/heads/ikanban/task-x-1

`

	worktrees, err := parseWorktreeList(input)

	require.NoError(t, err)
	require.Len(t, worktrees, 2)

	assert.Equal(t, "/path/to/main", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)

	assert.Equal(t, "/path/to/feature", worktrees[1].Path)
	assert.Equal(t, "ikanban/task-x-1", worktrees[1].Branch)
}

func TestParseWorktreeList_Empty(t *testing.T) {
	worktrees, err := parseWorktreeList("")

	require.NoError(t, err)
	assert.Empty(t, worktrees)
}

func TestParseWorktreeList_DetachedHead(t *testing.T) {
	// Detached HEAD doesn't have a branch line
	input := `worktree /path/to/detached
HEAD abc123def456
detached`

	worktrees, err := parseWorktreeList(input)

	require.NoError(t, err)
	require.Len(t, worktrees, 1)
	assert.Equal(t, "/path/to/detached", worktrees[0].Path)
	assert.Equal(t, "", worktrees[0].Branch)
}
