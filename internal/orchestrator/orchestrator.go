// Package orchestrator drives task runtimes through their lifecycle.
//
// A run provisions a worktree, opens an agent session in it and submits the
// initial prompt. Every transition is published on the event bus; failures
// are converted into exactly one task.failed event and returned to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ikanban/ikanban/internal/domain"
)

// EventBus is the part of the event bus the orchestrator publishes to.
type EventBus interface {
	domain.EventEmitter
	Subscribe(listener func(domain.RuntimeEvent)) func()
}

// Deps holds the collaborators an Orchestrator cannot run without.
type Deps struct {
	Projects      domain.ProjectRegistry
	Worktrees     domain.TaskWorktrees
	Conversations domain.TaskConversations
	Bus           EventBus
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Store         domain.TaskStore // Optional snapshot persistence
	Logger        domain.Logger
	Clock         domain.Clock
	StartCommand  string               // Default worktree start command
	CleanupPolicy domain.CleanupPolicy // Policy used when a cleanup names none
}

// RunTaskInput contains the parameters for running a task.
// Fields are ordered to minimize memory padding.
type RunTaskInput struct {
	Model         *domain.ModelRef // Optional; the conversation default applies otherwise
	TaskID        string
	ProjectID     string
	InitialPrompt string
	Title         string // Defaults to "Task <id>"
	StartCommand  string // Overrides Options.StartCommand
}

// Orchestrator owns the task runtime index.
// Fields are ordered to minimize memory padding.
type Orchestrator struct {
	projects      domain.ProjectRegistry
	worktrees     domain.TaskWorktrees
	conversations domain.TaskConversations
	bus           EventBus
	store         domain.TaskStore
	logger        domain.Logger
	clock         domain.Clock
	tasks         map[string]*domain.TaskRuntime
	startCommand  string
	cleanupPolicy domain.CleanupPolicy
	mu            sync.RWMutex
}

// New creates a new Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	o := &Orchestrator{
		projects:      deps.Projects,
		worktrees:     deps.Worktrees,
		conversations: deps.Conversations,
		bus:           deps.Bus,
		store:         opts.Store,
		logger:        opts.Logger,
		clock:         opts.Clock,
		tasks:         make(map[string]*domain.TaskRuntime),
		startCommand:  opts.StartCommand,
		cleanupPolicy: opts.CleanupPolicy,
	}
	if o.logger == nil {
		o.logger = domain.NopLogger{}
	}
	if o.clock == nil {
		o.clock = domain.RealClock{}
	}
	if o.cleanupPolicy == "" {
		o.cleanupPolicy = domain.CleanupKeep
	}
	return o
}

// Restore loads persisted snapshots into the index.
// Runtimes already present in memory win over stored ones.
func (o *Orchestrator) Restore() (int, error) {
	if o.store == nil {
		return 0, nil
	}
	stored, err := o.store.List()
	if err != nil {
		return 0, fmt.Errorf("list stored tasks: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, t := range stored {
		if t == nil || t.TaskID == "" {
			continue
		}
		if _, ok := o.tasks[t.TaskID]; ok {
			continue
		}
		o.tasks[t.TaskID] = t.Clone()
		n++
	}
	return n, nil
}

// RunTask provisions a worktree and a session for a task and submits its
// initial prompt. The returned runtime is in review on success.
// Validation errors are returned before a runtime is created; any later
// error leaves the runtime failed.
func (o *Orchestrator) RunTask(ctx context.Context, in RunTaskInput) (*domain.TaskRuntime, error) {
	taskID, err := domain.NormalizeTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	projectID, err := domain.NormalizeID(in.ProjectID, "Project id")
	if err != nil {
		return nil, err
	}
	prompt, err := domain.NormalizeID(in.InitialPrompt, "Initial prompt")
	if err != nil {
		return nil, err
	}
	project, err := o.projects.Get(projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Task " + taskID
	}
	startCommand := in.StartCommand
	if startCommand == "" {
		startCommand = o.startCommand
	}

	return o.run(ctx, runSpec{
		project:      project,
		model:        in.Model,
		taskID:       taskID,
		prompt:       prompt,
		title:        title,
		startCommand: startCommand,
		attempt:      1,
	})
}

// runSpec is a validated run request.
type runSpec struct {
	project      *domain.ProjectRef
	model        *domain.ModelRef
	taskID       string
	prompt       string
	title        string
	startCommand string
	parentTaskID string
	attempt      int
	fresh        bool // Reject any existing runtime, terminal or not
}

func (o *Orchestrator) run(ctx context.Context, spec runSpec) (*domain.TaskRuntime, error) {
	taskID := spec.taskID
	if err := o.admit(spec); err != nil {
		return nil, err
	}
	o.logger.Info(taskID, "orchestrator", fmt.Sprintf("running task in project %s", spec.project.ID))

	if err := o.transition(taskID, domain.TaskStateCreatingWorktree); err != nil {
		return nil, o.fail(taskID, err)
	}
	wt, err := o.worktrees.CreateTaskWorktree(ctx, domain.CreateTaskWorktreeInput{
		ProjectID:        spec.project.ID,
		ProjectDirectory: spec.project.RootDirectory,
		TaskID:           taskID,
		StartCommand:     spec.startCommand,
		Timestamp:        o.clock.Now(),
	})
	if err != nil {
		return nil, o.fail(taskID, err)
	}
	o.update(taskID, func(t *domain.TaskRuntime) { t.WorktreeDirectory = wt.Directory })
	o.emit(domain.EventTaskWorktreeCreated, taskID, domain.EventPayload{
		Directory: wt.Directory,
		Branch:    wt.Branch,
		Name:      wt.Name,
	})

	if err := o.transition(taskID, domain.TaskStateRunning); err != nil {
		return nil, o.fail(taskID, err)
	}
	session, err := o.conversations.CreateTaskSession(ctx, domain.CreateSessionInput{
		ProjectID:         spec.project.ID,
		TaskID:            taskID,
		ProjectDirectory:  spec.project.RootDirectory,
		WorktreeDirectory: wt.Directory,
		Title:             spec.title,
	})
	if err != nil {
		return nil, o.fail(taskID, err)
	}
	o.update(taskID, func(t *domain.TaskRuntime) { t.SessionID = session.SessionID })
	o.emit(domain.EventTaskSessionCreated, taskID, domain.EventPayload{
		SessionID: session.SessionID,
		Directory: session.Directory,
		Title:     session.Title,
	})

	if _, err := o.conversations.SendInitialPrompt(ctx, domain.SendPromptInput{
		Model:             spec.model,
		SessionID:         session.SessionID,
		Prompt:            spec.prompt,
		WorktreeDirectory: wt.Directory,
	}); err != nil {
		return nil, o.fail(taskID, err)
	}
	o.emit(domain.EventTaskPromptSubmitted, taskID, domain.EventPayload{
		SessionID:  session.SessionID,
		PromptKind: domain.PromptInitial,
	})

	if err := o.transition(taskID, domain.TaskStateReview); err != nil {
		return nil, o.fail(taskID, err)
	}
	return o.GetTask(taskID)
}

// admit inserts a queued runtime unless the id has a non-terminal one.
// Fresh runs also refuse to replace a terminal runtime.
func (o *Orchestrator) admit(spec runSpec) error {
	now := o.clock.Now()

	o.mu.Lock()
	if existing, ok := o.tasks[spec.taskID]; ok {
		if !existing.State.IsTerminal() {
			o.mu.Unlock()
			return fmt.Errorf("task %s is %s: %w", spec.taskID, existing.State, domain.ErrTaskActive)
		}
		if spec.fresh {
			o.mu.Unlock()
			return fmt.Errorf("task %s: %w", spec.taskID, domain.ErrTaskExists)
		}
	}
	t := &domain.TaskRuntime{
		TaskID:        spec.taskID,
		ProjectID:     spec.project.ID,
		Title:         spec.title,
		InitialPrompt: spec.prompt,
		State:         domain.TaskStateQueued,
		ParentTaskID:  spec.parentTaskID,
		Attempt:       spec.attempt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.tasks[spec.taskID] = t
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
	o.emit(domain.EventTaskEnqueued, spec.taskID, domain.EventPayload{
		State: domain.TaskStateQueued,
		Title: spec.title,
	})
	return nil
}

// GetTask returns a copy of a task runtime.
func (o *Orchestrator) GetTask(taskID string) (*domain.TaskRuntime, error) {
	id := strings.TrimSpace(taskID)
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	return t.Clone(), nil
}

// ListTasks returns copies of all runtimes ordered by creation time, then id.
func (o *Orchestrator) ListTasks() []*domain.TaskRuntime {
	o.mu.RLock()
	out := make([]*domain.TaskRuntime, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.Clone())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Subscribe delivers task.* events to listener. The returned func is idempotent.
func (o *Orchestrator) Subscribe(listener func(domain.RuntimeEvent)) func() {
	return o.bus.Subscribe(func(ev domain.RuntimeEvent) {
		if ev.Type.IsTaskEvent() {
			listener(ev)
		}
	})
}

// transition moves a task to the target state and emits task.state.changed.
func (o *Orchestrator) transition(taskID string, to domain.TaskState) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	from := t.State
	if !from.CanTransitionTo(to) {
		o.mu.Unlock()
		return fmt.Errorf("task %s cannot move from %s to %s: %w", taskID, from, to, domain.ErrInvalidTransition)
	}
	t.State = to
	t.UpdatedAt = o.clock.Now()
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
	o.emit(domain.EventTaskStateChanged, taskID, domain.EventPayload{
		State:         to,
		PreviousState: from,
	})
	return nil
}

// fail records err on the task, moves it to failed and emits task.failed.
// It returns err unchanged so callers can write "return nil, o.fail(id, err)".
func (o *Orchestrator) fail(taskID string, err error) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return err
	}
	from := t.State
	if from != domain.TaskStateFailed && !from.CanTransitionTo(domain.TaskStateFailed) {
		o.mu.Unlock()
		o.logger.Warn(taskID, "orchestrator", fmt.Sprintf("cannot mark %s task failed: %v", from, err))
		return err
	}
	t.State = domain.TaskStateFailed
	t.Error = err.Error()
	t.UpdatedAt = o.clock.Now()
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
	o.logger.Error(taskID, "orchestrator", err.Error())
	o.emit(domain.EventTaskFailed, taskID, domain.EventPayload{
		State:         domain.TaskStateFailed,
		PreviousState: from,
		Error:         err.Error(),
	})
	return err
}

// update applies fn to the stored runtime and persists the result.
func (o *Orchestrator) update(taskID string, fn func(t *domain.TaskRuntime)) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	fn(t)
	t.UpdatedAt = o.clock.Now()
	snapshot := t.Clone()
	o.mu.Unlock()

	o.persist(snapshot)
}

// persist saves a snapshot. Store failures are logged, never returned.
func (o *Orchestrator) persist(t *domain.TaskRuntime) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(t); err != nil {
		o.logger.Warn(t.TaskID, "orchestrator", fmt.Sprintf("save task snapshot: %v", err))
	}
}

// emit publishes a task event, filling in the task, project and time.
func (o *Orchestrator) emit(eventType domain.EventType, taskID string, payload domain.EventPayload) {
	payload.TaskID = taskID
	if payload.ProjectID == "" {
		o.mu.RLock()
		if t, ok := o.tasks[taskID]; ok {
			payload.ProjectID = t.ProjectID
		}
		o.mu.RUnlock()
	}
	if payload.At.IsZero() {
		payload.At = o.clock.Now()
	}
	o.bus.Emit(eventType, payload)
}

// lookup returns a copy of the runtime together with its project.
func (o *Orchestrator) lookup(taskID string) (*domain.TaskRuntime, *domain.ProjectRef, error) {
	t, err := o.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	project, err := o.projects.Get(t.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("get project: %w", err)
	}
	return t, project, nil
}

