// Package testutil provides shared test utilities and mock implementations.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ikanban/ikanban/internal/domain"
)

// MockClock is a test double for domain.Clock.
type MockClock struct {
	NowTime time.Time
}

// Now returns the configured time.
func (m *MockClock) Now() time.Time {
	return m.NowTime
}

// =============================================================================
// Runtime client
// =============================================================================

// MockRuntimeProvider is a test double for domain.RuntimeClientProvider.
// Fields are ordered to minimize memory padding.
type MockRuntimeProvider struct {
	RuntimeClient *MockRuntimeClient
	ClientErr     error
	Directories   []string // Directories clients were requested for
	mu            sync.Mutex
}

// NewMockRuntimeProvider creates a provider handing out a fresh MockRuntimeClient.
func NewMockRuntimeProvider() *MockRuntimeProvider {
	return &MockRuntimeProvider{RuntimeClient: NewMockRuntimeClient()}
}

// Client returns the shared mock client.
func (m *MockRuntimeProvider) Client(_ context.Context, directory string) (domain.RuntimeClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Directories = append(m.Directories, directory)
	if m.ClientErr != nil {
		return nil, m.ClientErr
	}
	return m.RuntimeClient, nil
}

// ClientCalls returns how many clients were requested.
func (m *MockRuntimeProvider) ClientCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Directories)
}

// MockRuntimeClient is a test double for domain.RuntimeClient.
type MockRuntimeClient struct {
	WorktreeAPI *MockWorktreeAPI
	SessionAPI  *MockSessionAPI
	EventAPI    *MockEventAPI
}

// NewMockRuntimeClient creates a client with default-behaving APIs.
func NewMockRuntimeClient() *MockRuntimeClient {
	return &MockRuntimeClient{
		WorktreeAPI: &MockWorktreeAPI{},
		SessionAPI:  &MockSessionAPI{},
		EventAPI:    &MockEventAPI{},
	}
}

// Worktrees returns the worktree API.
func (m *MockRuntimeClient) Worktrees() domain.WorktreeAPI { return m.WorktreeAPI }

// Sessions returns the session API.
func (m *MockRuntimeClient) Sessions() domain.SessionAPI { return m.SessionAPI }

// Events returns the event API.
func (m *MockRuntimeClient) Events() domain.EventAPI { return m.EventAPI }

// MockWorktreeAPI is a test double for domain.WorktreeAPI.
// Nil response fields select a successful default response.
type MockWorktreeAPI struct {
	CreateResp     *domain.Response[domain.WorktreeInfo]
	ListResp       *domain.Response[[]string]
	ResetResp      *domain.Response[bool]
	RemoveResp     *domain.Response[bool]
	CreateErr      error
	ListErr        error
	ResetErr       error
	RemoveErr      error
	CreateRequests []domain.WorktreeCreateRequest
	RemoveRequests []domain.WorktreeTargetRequest
	ResetRequests  []domain.WorktreeTargetRequest
	mu             sync.Mutex
}

// Create records the request. By default the worktree lands at <project>/.worktrees/<name>.
func (m *MockWorktreeAPI) Create(_ context.Context, req domain.WorktreeCreateRequest) (domain.Response[domain.WorktreeInfo], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateRequests = append(m.CreateRequests, req)
	if m.CreateErr != nil {
		return domain.Response[domain.WorktreeInfo]{}, m.CreateErr
	}
	if m.CreateResp != nil {
		return *m.CreateResp, nil
	}
	return domain.OK(domain.WorktreeInfo{
		Name:      req.Name,
		Branch:    domain.WorktreeBranchName(req.Name),
		Directory: domain.WorktreePath(req.Directory, req.Name),
	}), nil
}

// List returns ListResp or an empty list.
func (m *MockWorktreeAPI) List(_ context.Context, _ string) (domain.Response[[]string], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return domain.Response[[]string]{}, m.ListErr
	}
	if m.ListResp != nil {
		return *m.ListResp, nil
	}
	return domain.OK([]string{}), nil
}

// Reset records the request and returns ResetResp or true.
func (m *MockWorktreeAPI) Reset(_ context.Context, req domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetRequests = append(m.ResetRequests, req)
	if m.ResetErr != nil {
		return domain.Response[bool]{}, m.ResetErr
	}
	if m.ResetResp != nil {
		return *m.ResetResp, nil
	}
	return domain.OK(true), nil
}

// Remove records the request and returns RemoveResp or true.
func (m *MockWorktreeAPI) Remove(_ context.Context, req domain.WorktreeTargetRequest) (domain.Response[bool], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveRequests = append(m.RemoveRequests, req)
	if m.RemoveErr != nil {
		return domain.Response[bool]{}, m.RemoveErr
	}
	if m.RemoveResp != nil {
		return *m.RemoveResp, nil
	}
	return domain.OK(true), nil
}

// CreateCalls returns the number of Create calls.
func (m *MockWorktreeAPI) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateRequests)
}

// RemoveCalls returns the number of Remove calls.
func (m *MockWorktreeAPI) RemoveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RemoveRequests)
}

// MockSessionAPI is a test double for domain.SessionAPI.
// Sessions are numbered session-1, session-2, ... unless CreateResp is set.
type MockSessionAPI struct {
	CreateResp     *domain.Response[domain.SessionPayload]
	PromptResp     *domain.Response[json.RawMessage]
	MessagesResp   *domain.Response[[]json.RawMessage]
	CreateErr      error
	PromptErr      error
	MessagesErr    error
	CreateRequests []domain.SessionCreateRequest
	PromptRequests []domain.PromptRequest
	created        int
	mu             sync.Mutex
}

// Create records the request and returns a new session.
func (m *MockSessionAPI) Create(_ context.Context, req domain.SessionCreateRequest) (domain.Response[domain.SessionPayload], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateRequests = append(m.CreateRequests, req)
	if m.CreateErr != nil {
		return domain.Response[domain.SessionPayload]{}, m.CreateErr
	}
	if m.CreateResp != nil {
		return *m.CreateResp, nil
	}
	m.created++
	return domain.OK(domain.SessionPayload{
		ID:    fmt.Sprintf("session-%d", m.created),
		Title: req.Title,
	}), nil
}

// Prompt records the request.
func (m *MockSessionAPI) Prompt(_ context.Context, req domain.PromptRequest) (domain.Response[json.RawMessage], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PromptRequests = append(m.PromptRequests, req)
	if m.PromptErr != nil {
		return domain.Response[json.RawMessage]{}, m.PromptErr
	}
	if m.PromptResp != nil {
		return *m.PromptResp, nil
	}
	return domain.OK(json.RawMessage(`{}`)), nil
}

// Messages returns MessagesResp or no messages.
func (m *MockSessionAPI) Messages(_ context.Context, _ string) (domain.Response[[]json.RawMessage], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MessagesErr != nil {
		return domain.Response[[]json.RawMessage]{}, m.MessagesErr
	}
	if m.MessagesResp != nil {
		return *m.MessagesResp, nil
	}
	return domain.OK([]json.RawMessage{}), nil
}

// CreateCalls returns the number of Create calls.
func (m *MockSessionAPI) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateRequests)
}

// Prompts returns a copy of the recorded prompt requests.
func (m *MockSessionAPI) Prompts() []domain.PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PromptRequest(nil), m.PromptRequests...)
}

// MockEventAPI is a test double for domain.EventAPI.
type MockEventAPI struct {
	SubscribeResp *domain.Response[domain.EventStream]
	SubscribeErr  error
	Directories   []string
	mu            sync.Mutex
}

// Subscribe returns SubscribeResp or a stream without handles.
func (m *MockEventAPI) Subscribe(_ context.Context, directory string) (domain.Response[domain.EventStream], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Directories = append(m.Directories, directory)
	if m.SubscribeErr != nil {
		return domain.Response[domain.EventStream]{}, m.SubscribeErr
	}
	if m.SubscribeResp != nil {
		return *m.SubscribeResp, nil
	}
	return domain.OK(domain.EventStream{}), nil
}

// =============================================================================
// Git
// =============================================================================

// MockGit is a test double for domain.Git.
// Branches maps a directory to its checked-out branch.
// Fields are ordered to minimize memory padding.
type MockGit struct {
	Branches             map[string]string
	Dirty                map[string]bool
	CurrentBranchErr     error
	HasUncommittedErr    error
	AheadErr             error
	CommitAllErr         error
	SquashMergeErr       error
	CommitErr            error
	DeleteBranchErr      error
	HeadHash             string
	WorkingTreeDiff      string
	BranchDiff           string
	CommitMessages       []string
	DeletedBranches      []string
	Ahead                int
	CommitAllCalled      bool
	SquashMergeCalled    bool
	AbortMergeCalled     bool
	CommitCalled         bool
	DiffWorkingTreeCalls int
	DiffBranchesCalls    int
	NothingStaged        bool // Squash merge stages nothing
	mu                   sync.Mutex
}

// NewMockGit creates a MockGit with initialized maps.
func NewMockGit() *MockGit {
	return &MockGit{
		Branches: make(map[string]string),
		Dirty:    make(map[string]bool),
		HeadHash: "0123456789abcdef0123456789abcdef01234567",
	}
}

// CurrentBranch returns the configured branch of dir, or main.
func (m *MockGit) CurrentBranch(_ context.Context, dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CurrentBranchErr != nil {
		return "", m.CurrentBranchErr
	}
	if b, ok := m.Branches[dir]; ok {
		return b, nil
	}
	return "main", nil
}

// HasUncommittedChanges returns the configured dirty flag of dir.
func (m *MockGit) HasUncommittedChanges(_ context.Context, dir string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HasUncommittedErr != nil {
		return false, m.HasUncommittedErr
	}
	return m.Dirty[dir], nil
}

// HasStagedChanges reports whether the last squash merge staged anything.
func (m *MockGit) HasStagedChanges(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SquashMergeCalled && !m.NothingStaged, nil
}

// AheadCommits returns Ahead.
func (m *MockGit) AheadCommits(_ context.Context, _, _, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AheadErr != nil {
		return 0, m.AheadErr
	}
	return m.Ahead, nil
}

// CommitAll records an auto commit, which puts the branch one commit ahead.
func (m *MockGit) CommitAll(_ context.Context, dir, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitAllCalled = true
	if m.CommitAllErr != nil {
		return m.CommitAllErr
	}
	m.CommitMessages = append(m.CommitMessages, message)
	m.Dirty[dir] = false
	m.Ahead++
	return nil
}

// SquashMerge records the merge.
func (m *MockGit) SquashMerge(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SquashMergeCalled = true
	return m.SquashMergeErr
}

// AbortMerge records the abort.
func (m *MockGit) AbortMerge(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AbortMergeCalled = true
	return nil
}

// Commit records the commit message.
func (m *MockGit) Commit(_ context.Context, _, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalled = true
	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.CommitMessages = append(m.CommitMessages, message)
	return nil
}

// HeadCommit returns HeadHash.
func (m *MockGit) HeadCommit(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HeadHash, nil
}

// DiffWorkingTree returns WorkingTreeDiff.
func (m *MockGit) DiffWorkingTree(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiffWorkingTreeCalls++
	return m.WorkingTreeDiff, nil
}

// DiffBranches returns BranchDiff.
func (m *MockGit) DiffBranches(_ context.Context, _, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiffBranchesCalls++
	return m.BranchDiff, nil
}

// DeleteBranch records the branch and returns DeleteBranchErr.
func (m *MockGit) DeleteBranch(_ context.Context, _, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeletedBranches = append(m.DeletedBranches, branch)
	return m.DeleteBranchErr
}

// =============================================================================
// Registries and stores
// =============================================================================

// MockProjectRegistry is a test double for domain.ProjectRegistry.
type MockProjectRegistry struct {
	Projects    map[string]*domain.ProjectRef
	GetErr      error
	RegisterErr error
	nextID      int
}

// NewMockProjectRegistry creates a registry holding the given projects.
func NewMockProjectRegistry(projects ...*domain.ProjectRef) *MockProjectRegistry {
	m := &MockProjectRegistry{Projects: make(map[string]*domain.ProjectRef)}
	for _, p := range projects {
		m.Projects[p.ID] = p
	}
	return m
}

// Get returns a project or ErrProjectNotFound.
func (m *MockProjectRegistry) Get(id string) (*domain.ProjectRef, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.Projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrProjectNotFound)
	}
	return p, nil
}

// List returns projects ordered by id.
func (m *MockProjectRegistry) List() ([]*domain.ProjectRef, error) {
	out := make([]*domain.ProjectRef, 0, len(m.Projects))
	for _, p := range m.Projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Register adds a project with a sequential id.
func (m *MockProjectRegistry) Register(name, rootDirectory string) (*domain.ProjectRef, error) {
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	m.nextID++
	p := &domain.ProjectRef{
		ID:            fmt.Sprintf("project-%d", m.nextID),
		Name:          name,
		RootDirectory: rootDirectory,
		CreatedAt:     time.UnixMilli(int64(m.nextID)),
	}
	m.Projects[p.ID] = p
	return p, nil
}

// Remove deletes a project.
func (m *MockProjectRegistry) Remove(id string) error {
	if _, ok := m.Projects[id]; !ok {
		return domain.ErrProjectNotFound
	}
	delete(m.Projects, id)
	return nil
}

// MockTaskStore is a test double for domain.TaskStore.
type MockTaskStore struct {
	Tasks     map[string]*domain.TaskRuntime
	SaveErr   error
	ListErr   error
	Deleted   []string
	SaveCalls int
	mu        sync.Mutex
}

// NewMockTaskStore creates an empty store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{Tasks: make(map[string]*domain.TaskRuntime)}
}

// Save stores a copy of the task.
func (m *MockTaskStore) Save(task *domain.TaskRuntime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Tasks[task.TaskID] = task.Clone()
	return nil
}

// Delete removes a task.
func (m *MockTaskStore) Delete(_, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, taskID)
	delete(m.Tasks, taskID)
	return nil
}

// List returns copies of every stored task.
func (m *MockTaskStore) List() ([]*domain.TaskRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]*domain.TaskRuntime, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

// Get returns the stored copy of a task.
func (m *MockTaskStore) Get(taskID string) *domain.TaskRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tasks[taskID].Clone()
}

// =============================================================================
// Logging and events
// =============================================================================

// LogLine is one line recorded by MockLogger.
type LogLine struct {
	Level    string
	TaskID   string
	Category string
	Msg      string
}

// MockLogger is a test double for domain.Logger that records every line.
type MockLogger struct {
	Lines []LogLine
	mu    sync.Mutex
}

func (m *MockLogger) record(level, taskID, category, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lines = append(m.Lines, LogLine{Level: level, TaskID: taskID, Category: category, Msg: msg})
}

// Debug records a debug line.
func (m *MockLogger) Debug(taskID, category, msg string) { m.record("DEBUG", taskID, category, msg) }

// Info records an info line.
func (m *MockLogger) Info(taskID, category, msg string) { m.record("INFO", taskID, category, msg) }

// Warn records a warn line.
func (m *MockLogger) Warn(taskID, category, msg string) { m.record("WARN", taskID, category, msg) }

// Error records an error line.
func (m *MockLogger) Error(taskID, category, msg string) { m.record("ERROR", taskID, category, msg) }

// Count returns the number of lines recorded at a level.
func (m *MockLogger) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.Lines {
		if l.Level == level {
			n++
		}
	}
	return n
}

// MockEmitter is a test double for domain.EventEmitter that records events.
type MockEmitter struct {
	Events []domain.RuntimeEvent
	mu     sync.Mutex
}

// Emit records the event with the next sequence number.
func (m *MockEmitter) Emit(eventType domain.EventType, payload domain.EventPayload) domain.RuntimeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := domain.RuntimeEvent{
		Sequence: uint64(len(m.Events) + 1),
		Type:     eventType,
		Payload:  payload,
	}
	m.Events = append(m.Events, ev)
	return ev
}

// Types returns the recorded event types in order.
func (m *MockEmitter) Types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Type
	}
	return out
}
