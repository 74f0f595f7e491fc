package orchestrator

import (
	"context"
	"fmt"

	"github.com/ikanban/ikanban/internal/domain"
)

// GetTaskDiff returns the pending changes of a task's worktree.
func (o *Orchestrator) GetTaskDiff(ctx context.Context, taskID string) (*domain.TaskWorktreeDiff, error) {
	t, project, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if !t.HasWorktree() {
		return nil, fmt.Errorf("task %s: %w", t.TaskID, domain.ErrNoWorktree)
	}
	return o.worktrees.GetTaskWorktreeDiff(ctx, domain.DiffTaskWorktreeInput{
		ProjectDirectory:  project.RootDirectory,
		TaskID:            t.TaskID,
		WorktreeDirectory: t.WorktreeDirectory,
	})
}

// ListMessages returns the conversation of a task's session.
func (o *Orchestrator) ListMessages(ctx context.Context, taskID string) ([]domain.ConversationMessageMeta, error) {
	t, err := o.sessionTask(taskID)
	if err != nil {
		return nil, err
	}
	return o.conversations.ListConversationMessages(ctx, domain.ListMessagesInput{
		SessionID:         t.SessionID,
		WorktreeDirectory: t.WorktreeDirectory,
	})
}

// WatchTask streams the runtime events of a task's session into onEvent
// until the returned subscription is closed.
func (o *Orchestrator) WatchTask(ctx context.Context, taskID string, onEvent func(domain.RuntimeStreamEvent)) (*domain.Subscription, error) {
	t, err := o.sessionTask(taskID)
	if err != nil {
		return nil, err
	}
	return o.conversations.SubscribeToEvents(ctx, domain.SubscribeInput{
		SessionID:         t.SessionID,
		WorktreeDirectory: t.WorktreeDirectory,
		OnEvent:           onEvent,
	})
}

func (o *Orchestrator) sessionTask(taskID string) (*domain.TaskRuntime, error) {
	t, err := o.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.SessionID == "" {
		return nil, fmt.Errorf("task %s: %w", t.TaskID, domain.ErrNoSession)
	}
	return t, nil
}
