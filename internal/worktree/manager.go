// Package worktree manages the git worktrees that isolate task work.
//
// The Manager creates worktrees through the runtime client scoped to a project,
// remembers which worktree belongs to which task, and performs the git side of
// reviewing a task: diffing and squash merging its branch.
package worktree

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Manager implements domain.TaskWorktrees interface.
var _ domain.TaskWorktrees = (*Manager)(nil)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Emitter           domain.EventEmitter // Optional event sink
	Logger            domain.Logger
	Clock             domain.Clock
	MergeMessage      string // Squash commit template, see domain.RenderCommitMessage
	AutoCommitMessage string // Template for committing pending worktree changes
	KeepBranches      bool   // Keep worktree branches after removal
}

// Manager provisions and tears down task worktrees.
// Fields are ordered to minimize memory padding.
type Manager struct {
	provider          domain.RuntimeClientProvider
	git               domain.Git
	emitter           domain.EventEmitter
	logger            domain.Logger
	clock             domain.Clock
	directories       map[string]string // taskID -> worktree directory
	projects          map[string]string // taskID -> project id
	mergeMessage      string
	autoCommitMessage string
	mu                sync.Mutex
	deleteBranches    bool
}

// NewManager creates a new worktree manager.
func NewManager(provider domain.RuntimeClientProvider, git domain.Git, opts Options) *Manager {
	m := &Manager{
		provider:          provider,
		git:               git,
		emitter:           opts.Emitter,
		logger:            opts.Logger,
		clock:             opts.Clock,
		directories:       make(map[string]string),
		projects:          make(map[string]string),
		mergeMessage:      opts.MergeMessage,
		autoCommitMessage: opts.AutoCommitMessage,
		deleteBranches:    !opts.KeepBranches,
	}
	if m.logger == nil {
		m.logger = domain.NopLogger{}
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	if m.mergeMessage == "" {
		m.mergeMessage = domain.DefaultMergeMessage
	}
	if m.autoCommitMessage == "" {
		m.autoCommitMessage = domain.DefaultAutoCommit
	}
	return m
}

// CreateTaskWorktree creates the worktree for a task and records it.
func (m *Manager) CreateTaskWorktree(ctx context.Context, in domain.CreateTaskWorktreeInput) (*domain.ManagedWorktree, error) {
	taskID, err := domain.NormalizeTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	projectDir, err := domain.NormalizeDirectory(in.ProjectDirectory, "Project directory")
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	ts, err := domain.NormalizeTimestamp(in.Timestamp, now)
	if err != nil {
		return nil, err
	}
	name, err := domain.BuildTaskWorktreeName(taskID, ts)
	if err != nil {
		return nil, err
	}

	client, err := m.provider.Client(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}
	resp, err := client.Worktrees().Create(ctx, domain.WorktreeCreateRequest{
		Directory:    projectDir,
		Name:         name,
		StartCommand: in.StartCommand,
	})
	info, err := domain.Unwrap(resp, err, "create worktree")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(info.Directory) == "" {
		return nil, fmt.Errorf("create worktree: runtime did not report a directory: %w", domain.ErrNoResponseData)
	}
	dir, err := domain.NormalizeDirectory(info.Directory, "Worktree directory")
	if err != nil {
		return nil, err
	}
	if info.Name != "" {
		name = info.Name
	}

	projectID := strings.TrimSpace(in.ProjectID)
	m.mu.Lock()
	m.directories[taskID] = dir
	m.recordProject(taskID, projectID)
	m.mu.Unlock()

	wt := &domain.ManagedWorktree{
		TaskID:           taskID,
		ProjectDirectory: projectDir,
		Name:             name,
		Branch:           info.Branch,
		Directory:        dir,
		CreatedAt:        now,
	}
	m.logger.Info(taskID, "worktree", fmt.Sprintf("created worktree %s at %s", name, dir))
	m.emit(domain.EventWorktreeCreated, domain.EventPayload{
		At:        now,
		TaskID:    taskID,
		ProjectID: projectID,
		Directory: dir,
		Branch:    info.Branch,
		Name:      name,
	})
	return wt, nil
}

// ListWorktrees returns the worktree directories of a project.
func (m *Manager) ListWorktrees(ctx context.Context, projectDirectory string) ([]string, error) {
	projectDir, err := domain.NormalizeDirectory(projectDirectory, "Project directory")
	if err != nil {
		return nil, err
	}
	client, err := m.provider.Client(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	resp, err := client.Worktrees().List(ctx, projectDir)
	raw, err := domain.Unwrap(resp, err, "list worktrees")
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(raw))
	for _, d := range raw {
		if strings.TrimSpace(d) == "" {
			continue
		}
		dir, err := domain.NormalizeDirectory(d, "Worktree directory")
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// ResetWorktree discards all changes in a worktree.
func (m *Manager) ResetWorktree(ctx context.Context, projectDirectory, worktreeDirectory string) (bool, error) {
	projectDir, dir, err := normalizeTarget(projectDirectory, worktreeDirectory)
	if err != nil {
		return false, err
	}
	client, err := m.provider.Client(ctx, projectDir)
	if err != nil {
		return false, fmt.Errorf("reset worktree: %w", err)
	}
	resp, err := client.Worktrees().Reset(ctx, domain.WorktreeTargetRequest{Directory: projectDir, WorktreeDirectory: dir})
	return domain.Unwrap(resp, err, "reset worktree")
}

// RemoveWorktree removes a worktree, deletes its branch and forgets every
// task mapped to it. Branch deletion is best effort.
func (m *Manager) RemoveWorktree(ctx context.Context, projectDirectory, worktreeDirectory string) (bool, error) {
	projectDir, dir, err := normalizeTarget(projectDirectory, worktreeDirectory)
	if err != nil {
		return false, err
	}
	return m.removeWorktree(ctx, projectDir, dir, "")
}

// removeWorktree removes a normalized worktree. owner names the task the
// removal is performed for; empty means whichever task maps to dir.
func (m *Manager) removeWorktree(ctx context.Context, projectDir, dir, owner string) (bool, error) {

	// The branch can only be resolved while the worktree still exists
	var branch string
	if m.deleteBranches {
		if b, err := m.git.CurrentBranch(ctx, dir); err == nil && b != "HEAD" {
			branch = b
		} else if err != nil {
			m.logger.Debug(owner, "worktree", fmt.Sprintf("resolve branch of %s: %v", dir, err))
		}
	}

	client, err := m.provider.Client(ctx, projectDir)
	if err != nil {
		return false, fmt.Errorf("remove worktree: %w", err)
	}
	resp, err := client.Worktrees().Remove(ctx, domain.WorktreeTargetRequest{Directory: projectDir, WorktreeDirectory: dir})
	removed, err := domain.Unwrap(resp, err, "remove worktree")
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}

	if branch != "" {
		if err := m.git.DeleteBranch(ctx, projectDir, branch); err != nil {
			m.logger.Warn(owner, "worktree", fmt.Sprintf("failed to delete branch %s: %v", branch, err))
		}
	}

	var taskIDs []string
	m.mu.Lock()
	for taskID, d := range m.directories {
		if d == dir {
			delete(m.directories, taskID)
			taskIDs = append(taskIDs, taskID)
		}
	}
	if owner == "" && len(taskIDs) == 1 {
		owner = taskIDs[0]
	}
	projectID := m.projects[owner]
	for _, taskID := range taskIDs {
		delete(m.projects, taskID)
	}
	m.mu.Unlock()

	payload := domain.EventPayload{
		At:        m.clock.Now(),
		TaskID:    owner,
		ProjectID: projectID,
		Directory: dir,
		Branch:    branch,
		Removed:   true,
	}
	m.logger.Info(payload.TaskID, "worktree", fmt.Sprintf("removed worktree %s", dir))
	m.emit(domain.EventWorktreeRemoved, payload)
	return true, nil
}

// CleanupTaskWorktree applies a cleanup policy to a task worktree.
// The directory comes from the input, else the recorded mapping; with neither
// there is nothing to clean up.
func (m *Manager) CleanupTaskWorktree(ctx context.Context, in domain.CleanupTaskWorktreeInput) (*domain.CleanupTaskWorktreeResult, error) {
	taskID, err := domain.NormalizeTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	projectDir, err := domain.NormalizeDirectory(in.ProjectDirectory, "Project directory")
	if err != nil {
		return nil, err
	}
	policy, err := domain.ParseCleanupPolicy(string(in.Policy))
	if err != nil {
		return nil, err
	}

	dir := strings.TrimSpace(in.WorktreeDirectory)
	if dir != "" {
		if dir, err = domain.NormalizeDirectory(dir, "Worktree directory"); err != nil {
			return nil, err
		}
	} else {
		dir = m.GetTaskWorktreeDirectory(taskID)
	}

	m.mu.Lock()
	m.recordProject(taskID, strings.TrimSpace(in.ProjectID))
	projectID := m.projects[taskID]
	m.mu.Unlock()

	result := &domain.CleanupTaskWorktreeResult{
		Policy:            policy,
		TaskID:            taskID,
		WorktreeDirectory: dir,
	}
	m.emit(domain.EventWorktreeCleanup, domain.EventPayload{
		At:        m.clock.Now(),
		TaskID:    taskID,
		ProjectID: projectID,
		Directory: dir,
		Policy:    policy,
	})
	if dir == "" {
		return result, nil
	}

	if !policy.ShouldRemove() {
		m.mu.Lock()
		m.directories[taskID] = dir
		m.mu.Unlock()
		return result, nil
	}

	removed, err := m.removeWorktree(ctx, projectDir, dir, taskID)
	if err != nil {
		return nil, err
	}
	if removed {
		m.mu.Lock()
		delete(m.directories, taskID)
		delete(m.projects, taskID)
		m.mu.Unlock()
	}
	result.Removed = removed
	return result, nil
}

// MergeTaskWorktree squash merges the task branch into the branch checked out
// in the project directory. Pending worktree changes are committed first.
// Nothing ahead of the base, or a squash that stages nothing, is reported as
// Merged false without error.
func (m *Manager) MergeTaskWorktree(ctx context.Context, in domain.MergeTaskWorktreeInput) (*domain.MergeTaskWorktreeResult, error) {
	taskID, projectDir, dir, err := m.resolveTaskTarget(in.TaskID, in.ProjectDirectory, in.WorktreeDirectory)
	if err != nil {
		return nil, err
	}

	branch, err := m.git.CurrentBranch(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	base, err := m.git.CurrentBranch(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	result := &domain.MergeTaskWorktreeResult{Branch: branch, BaseBranch: base}
	data := domain.CommitMessageData{TaskID: taskID, Branch: branch, BaseBranch: base}

	dirty, err := m.git.HasUncommittedChanges(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	if dirty {
		msg, err := domain.RenderCommitMessage(m.autoCommitMessage, data)
		if err != nil {
			return nil, err
		}
		if err := m.git.CommitAll(ctx, dir, msg); err != nil {
			return nil, fmt.Errorf("merge worktree: %w", err)
		}
		result.AutoCommitted = true
	}

	ahead, err := m.git.AheadCommits(ctx, projectDir, base, branch)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	result.AheadCommits = ahead
	if ahead == 0 {
		m.logger.Info(taskID, "worktree", fmt.Sprintf("nothing to merge from %s into %s", branch, base))
		return result, nil
	}

	msg, err := domain.RenderCommitMessage(m.mergeMessage, data)
	if err != nil {
		return nil, err
	}
	if err := m.git.SquashMerge(ctx, projectDir, branch); err != nil {
		if abortErr := m.git.AbortMerge(ctx, projectDir); abortErr != nil {
			m.logger.Warn(taskID, "worktree", fmt.Sprintf("failed to abort merge: %v", abortErr))
		}
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	staged, err := m.git.HasStagedChanges(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	if !staged {
		if err := m.git.AbortMerge(ctx, projectDir); err != nil {
			return nil, fmt.Errorf("merge worktree: %w", err)
		}
		m.logger.Info(taskID, "worktree", fmt.Sprintf("%s has no net changes against %s", branch, base))
		return result, nil
	}
	if err := m.git.Commit(ctx, projectDir, msg); err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}
	commit, err := m.git.HeadCommit(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("merge worktree: %w", err)
	}

	result.Commit = commit
	result.Merged = true
	m.logger.Info(taskID, "worktree", fmt.Sprintf("squash merged %s into %s as %s", branch, base, commit))
	return result, nil
}

// GetTaskWorktreeDiff returns the pending changes of a task.
// A dirty worktree is diffed against the base branch; a clean one is diffed
// as <base>...<branch>.
func (m *Manager) GetTaskWorktreeDiff(ctx context.Context, in domain.DiffTaskWorktreeInput) (*domain.TaskWorktreeDiff, error) {
	_, projectDir, dir, err := m.resolveTaskTarget(in.TaskID, in.ProjectDirectory, in.WorktreeDirectory)
	if err != nil {
		return nil, err
	}

	branch, err := m.git.CurrentBranch(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("diff worktree: %w", err)
	}
	base, err := m.git.CurrentBranch(ctx, projectDir)
	if err != nil {
		return nil, fmt.Errorf("diff worktree: %w", err)
	}
	dirty, err := m.git.HasUncommittedChanges(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("diff worktree: %w", err)
	}

	result := &domain.TaskWorktreeDiff{Branch: branch, BaseBranch: base}
	if dirty {
		result.Mode = domain.DiffModeWorkingTree
		result.Diff, err = m.git.DiffWorkingTree(ctx, dir, base)
	} else {
		result.Mode = domain.DiffModeBranch
		result.Diff, err = m.git.DiffBranches(ctx, projectDir, base, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("diff worktree: %w", err)
	}
	return result, nil
}

// GetTaskWorktreeDirectory returns the recorded worktree of a task, or "".
func (m *Manager) GetTaskWorktreeDirectory(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directories[strings.TrimSpace(taskID)]
}

// resolveTaskTarget validates a task-scoped request and resolves its worktree
// directory from the input or the mapping.
func (m *Manager) resolveTaskTarget(taskID, projectDirectory, worktreeDirectory string) (id, projectDir, dir string, err error) {
	id, err = domain.NormalizeTaskID(taskID)
	if err != nil {
		return "", "", "", err
	}
	projectDir, err = domain.NormalizeDirectory(projectDirectory, "Project directory")
	if err != nil {
		return "", "", "", err
	}
	if strings.TrimSpace(worktreeDirectory) == "" {
		dir = m.GetTaskWorktreeDirectory(id)
		if dir == "" {
			return "", "", "", fmt.Errorf("task %s: %w", id, domain.ErrNoWorktree)
		}
		return id, projectDir, dir, nil
	}
	dir, err = domain.NormalizeDirectory(worktreeDirectory, "Worktree directory")
	if err != nil {
		return "", "", "", err
	}
	return id, projectDir, dir, nil
}

func normalizeTarget(projectDirectory, worktreeDirectory string) (projectDir, dir string, err error) {
	projectDir, err = domain.NormalizeDirectory(projectDirectory, "Project directory")
	if err != nil {
		return "", "", err
	}
	dir, err = domain.NormalizeDirectory(worktreeDirectory, "Worktree directory")
	if err != nil {
		return "", "", err
	}
	return projectDir, dir, nil
}

// recordProject remembers the project of a task. Callers hold m.mu.
func (m *Manager) recordProject(taskID, projectID string) {
	if projectID != "" {
		m.projects[taskID] = projectID
	}
}

func (m *Manager) emit(eventType domain.EventType, payload domain.EventPayload) {
	if m.emitter != nil {
		m.emitter.Emit(eventType, payload)
	}
}
