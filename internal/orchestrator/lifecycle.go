package orchestrator

import (
	"context"
	"fmt"

	"github.com/ikanban/ikanban/internal/domain"
)

// CleanupTaskWorktree tears down or keeps the worktree of a task.
// The task passes through cleaning and returns to the state it was in,
// also when the teardown fails. The recorded directory is cleared when the
// worktree was removed.
func (o *Orchestrator) CleanupTaskWorktree(ctx context.Context, taskID string, policy domain.CleanupPolicy) (*domain.CleanupTaskWorktreeResult, error) {
	if policy == "" {
		policy = o.cleanupPolicy
	}
	if _, err := domain.ParseCleanupPolicy(string(policy)); err != nil {
		return nil, err
	}
	t, project, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if !t.State.CanCleanup() {
		return nil, fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrInvalidTransition)
	}

	previous := t.State
	if err := o.transition(t.TaskID, domain.TaskStateCleaning); err != nil {
		return nil, err
	}

	res, err := o.worktrees.CleanupTaskWorktree(ctx, domain.CleanupTaskWorktreeInput{
		ProjectID:         project.ID,
		ProjectDirectory:  project.RootDirectory,
		TaskID:            t.TaskID,
		Policy:            policy,
		WorktreeDirectory: t.WorktreeDirectory,
	})
	if err != nil {
		return nil, o.abortCleanup(t.TaskID, previous, err)
	}
	if res.Removed {
		o.update(t.TaskID, func(rt *domain.TaskRuntime) { rt.WorktreeDirectory = "" })
	}

	if err := o.transition(t.TaskID, previous); err != nil {
		return nil, o.fail(t.TaskID, err)
	}
	o.emit(domain.EventTaskCleanupCompleted, t.TaskID, domain.EventPayload{
		Directory: res.WorktreeDirectory,
		Policy:    res.Policy,
		Removed:   res.Removed,
	})
	return res, nil
}

// abortCleanup returns a task to the state it had before cleaning and
// reports err as a warning. A failed teardown never fails the task.
func (o *Orchestrator) abortCleanup(taskID string, previous domain.TaskState, err error) error {
	if terr := o.transition(taskID, previous); terr != nil {
		o.logger.Warn(taskID, "orchestrator", fmt.Sprintf("restore %s after cleanup: %v", previous, terr))
	}
	msg := fmt.Sprintf("cleanup failed: %v", err)
	o.logger.Warn(taskID, "orchestrator", msg)
	o.emit(domain.EventLogAppended, taskID, domain.EventPayload{
		Level:   domain.LogWarn,
		Source:  "orchestrator",
		Message: msg,
	})
	return err
}

// MergeTaskWorktree squash-merges the worktree of a task in review into the
// default branch. A merge that lands moves the task to completed.
func (o *Orchestrator) MergeTaskWorktree(ctx context.Context, taskID string) (*domain.MergeTaskWorktreeResult, error) {
	t, project, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if t.State != domain.TaskStateReview {
		return nil, fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrInvalidTransition)
	}
	if !t.HasWorktree() {
		return nil, fmt.Errorf("task %s: %w", t.TaskID, domain.ErrNoWorktree)
	}

	res, err := o.worktrees.MergeTaskWorktree(ctx, domain.MergeTaskWorktreeInput{
		ProjectDirectory:  project.RootDirectory,
		TaskID:            t.TaskID,
		WorktreeDirectory: t.WorktreeDirectory,
	})
	if err != nil {
		return nil, o.fail(t.TaskID, err)
	}
	if !res.Merged {
		o.logger.Info(t.TaskID, "orchestrator", fmt.Sprintf("nothing to merge from %s", res.Branch))
		return res, nil
	}

	if err := o.transition(t.TaskID, domain.TaskStateCompleted); err != nil {
		return nil, o.fail(t.TaskID, err)
	}
	o.emit(domain.EventTaskCompleted, t.TaskID, domain.EventPayload{
		State:  domain.TaskStateCompleted,
		Branch: res.Branch,
		Merged: true,
	})
	return res, nil
}

// CompleteTask marks a task in review as completed without merging.
func (o *Orchestrator) CompleteTask(taskID string) (*domain.TaskRuntime, error) {
	t, err := o.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.State != domain.TaskStateReview {
		return nil, fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrInvalidTransition)
	}
	if err := o.transition(t.TaskID, domain.TaskStateCompleted); err != nil {
		return nil, err
	}
	o.emit(domain.EventTaskCompleted, t.TaskID, domain.EventPayload{State: domain.TaskStateCompleted})
	return o.GetTask(t.TaskID)
}

// SendFollowUp submits another prompt to the session of a task in review.
// The task is running while the prompt is in flight.
func (o *Orchestrator) SendFollowUp(ctx context.Context, taskID, prompt string) (*domain.PromptSubmission, error) {
	text, err := domain.NormalizeID(prompt, "Prompt")
	if err != nil {
		return nil, err
	}
	t, err := o.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.SessionID == "" {
		return nil, fmt.Errorf("task %s: %w", t.TaskID, domain.ErrNoSession)
	}
	if t.State != domain.TaskStateReview {
		return nil, fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrInvalidTransition)
	}

	if err := o.transition(t.TaskID, domain.TaskStateRunning); err != nil {
		return nil, err
	}
	sub, err := o.conversations.SendFollowUpPrompt(ctx, domain.SendPromptInput{
		SessionID:         t.SessionID,
		Prompt:            text,
		WorktreeDirectory: t.WorktreeDirectory,
	})
	if err != nil {
		return nil, o.fail(t.TaskID, err)
	}
	o.emit(domain.EventTaskPromptSubmitted, t.TaskID, domain.EventPayload{
		SessionID:  t.SessionID,
		PromptKind: domain.PromptFollowUp,
	})
	if err := o.transition(t.TaskID, domain.TaskStateReview); err != nil {
		return nil, o.fail(t.TaskID, err)
	}
	return sub, nil
}

// RetryTask starts a new run for a failed task under a derived id
// (<root>-retry-<n>), reusing its project, prompt and title.
// n is one past the highest retry of the root, so earlier attempts are kept.
func (o *Orchestrator) RetryTask(ctx context.Context, taskID string) (*domain.TaskRuntime, error) {
	t, project, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if t.State != domain.TaskStateFailed {
		return nil, fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrNotRetryable)
	}

	root := domain.RootTaskID(t.TaskID)
	n := o.nextRetryNumber(root)
	retryID := domain.DeriveRetryTaskID(root, n)
	o.logger.Info(t.TaskID, "orchestrator", fmt.Sprintf("retrying as %s", retryID))

	return o.run(ctx, runSpec{
		project:      project,
		taskID:       retryID,
		prompt:       t.InitialPrompt,
		title:        t.Title,
		startCommand: o.startCommand,
		parentTaskID: t.TaskID,
		attempt:      n + 1,
		fresh:        true,
	})
}

// nextRetryNumber returns one past the highest retry number recorded for root.
func (o *Orchestrator) nextRetryNumber(root string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	highest := 0
	for id := range o.tasks {
		if r, n, ok := domain.ParseRetryTaskID(id); ok && r == root && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// DeleteTask removes a completed or failed runtime from the index and store.
// The worktree is left alone; clean it up first to remove it.
func (o *Orchestrator) DeleteTask(taskID string) error {
	t, err := o.GetTask(taskID)
	if err != nil {
		return err
	}
	if !t.State.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", t.TaskID, t.State, domain.ErrTaskActive)
	}

	o.mu.Lock()
	delete(o.tasks, t.TaskID)
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Delete(t.ProjectID, t.TaskID); err != nil {
			return fmt.Errorf("delete task snapshot: %w", err)
		}
	}
	o.logger.Info(t.TaskID, "orchestrator", "deleted task")
	return nil
}
