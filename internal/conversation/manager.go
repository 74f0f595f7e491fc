// Package conversation tracks the agent sessions attached to tasks.
//
// The Manager opens one session per task run in the task's worktree, routes
// prompts to the directory a session lives in, and normalizes the loosely
// shaped messages the runtime returns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Manager implements domain.TaskConversations interface.
var _ domain.TaskConversations = (*Manager)(nil)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Emitter domain.EventEmitter // Optional event sink
	Logger  domain.Logger
	Clock   domain.Clock
	Model   *domain.ModelRef // Default model when a prompt names none
}

// Manager owns the task, session and directory mappings.
// Fields are ordered to minimize memory padding.
type Manager struct {
	provider    domain.RuntimeClientProvider
	emitter     domain.EventEmitter
	logger      domain.Logger
	clock       domain.Clock
	model       *domain.ModelRef
	sessions    map[string]domain.ConversationSessionMeta // sessionID -> meta
	taskSession map[string]string                         // taskID -> latest sessionID
	directories map[string]string                         // sessionID -> worktree directory
	mu          sync.RWMutex
}

// NewManager creates a new conversation manager.
func NewManager(provider domain.RuntimeClientProvider, opts Options) *Manager {
	m := &Manager{
		provider:    provider,
		emitter:     opts.Emitter,
		logger:      opts.Logger,
		clock:       opts.Clock,
		model:       opts.Model,
		sessions:    make(map[string]domain.ConversationSessionMeta),
		taskSession: make(map[string]string),
		directories: make(map[string]string),
	}
	if m.logger == nil {
		m.logger = domain.NopLogger{}
	}
	if m.clock == nil {
		m.clock = domain.RealClock{}
	}
	return m
}

// CreateTaskSession opens a session in the task's worktree and records it.
// A task that already had a session is re-pointed to the new one; the old
// session stays resolvable by id.
func (m *Manager) CreateTaskSession(ctx context.Context, in domain.CreateSessionInput) (*domain.ConversationSessionMeta, error) {
	projectID, err := domain.NormalizeID(in.ProjectID, "Project id")
	if err != nil {
		return nil, err
	}
	taskID, err := domain.NormalizeID(in.TaskID, "Task id")
	if err != nil {
		return nil, err
	}
	if _, err := domain.NormalizeDirectory(in.ProjectDirectory, "Project directory"); err != nil {
		return nil, err
	}
	dir, err := domain.NormalizeDirectory(in.WorktreeDirectory, "Worktree directory")
	if err != nil {
		return nil, err
	}
	fallback, err := domain.NormalizeTimestamp(in.Timestamp, m.clock.Now())
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)

	client, err := m.provider.Client(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("create task session: %w", err)
	}
	resp, err := client.Sessions().Create(ctx, domain.SessionCreateRequest{Directory: dir, Title: title})
	payload, err := domain.Unwrap(resp, err, "create task session")
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(payload.ID)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("create task session: session id is missing: %w", domain.ErrNoResponseData)
	}
	if title == "" {
		title = payload.Title
	}

	created, updated := sessionTimes(payload, fallback)
	meta := domain.ConversationSessionMeta{
		SessionID: sessionID,
		ProjectID: projectID,
		TaskID:    taskID,
		Directory: dir,
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
	}

	m.mu.Lock()
	m.sessions[sessionID] = meta
	m.taskSession[taskID] = sessionID
	m.directories[sessionID] = dir
	m.mu.Unlock()

	m.logger.Info(taskID, "conversation", fmt.Sprintf("created session %s in %s", sessionID, dir))
	m.emit(domain.EventSessionCreated, domain.EventPayload{
		At:        created,
		TaskID:    taskID,
		ProjectID: projectID,
		SessionID: sessionID,
		Directory: dir,
		Title:     title,
	})
	return &meta, nil
}

// SendInitialPrompt submits the first prompt of a session.
func (m *Manager) SendInitialPrompt(ctx context.Context, in domain.SendPromptInput) (*domain.PromptSubmission, error) {
	return m.sendPrompt(ctx, in, domain.PromptInitial, "send initial prompt")
}

// SendFollowUpPrompt submits a further prompt to a session.
func (m *Manager) SendFollowUpPrompt(ctx context.Context, in domain.SendPromptInput) (*domain.PromptSubmission, error) {
	return m.sendPrompt(ctx, in, domain.PromptFollowUp, "send follow-up prompt")
}

func (m *Manager) sendPrompt(ctx context.Context, in domain.SendPromptInput, kind domain.PromptKind, failure string) (*domain.PromptSubmission, error) {
	sessionID, err := domain.NormalizeID(in.SessionID, "Session id")
	if err != nil {
		return nil, err
	}
	prompt, err := domain.NormalizeID(in.Prompt, "Prompt")
	if err != nil {
		return nil, err
	}
	dir, err := m.resolveDirectory(sessionID, in.WorktreeDirectory)
	if err != nil {
		return nil, err
	}

	model := in.Model
	if model == nil {
		model = m.model
	}

	client, err := m.provider.Client(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	resp, err := client.Sessions().Prompt(ctx, domain.PromptRequest{
		Model:     model,
		SessionID: sessionID,
		Parts:     []domain.PromptPart{{Type: "text", Text: prompt}},
	})
	if _, err := domain.Unwrap(resp, err, failure); err != nil {
		return nil, err
	}

	submittedAt := m.clock.Now()
	m.mu.Lock()
	meta, ok := m.sessions[sessionID]
	if ok {
		meta = meta.Touch(submittedAt)
		m.sessions[sessionID] = meta
	}
	m.mu.Unlock()

	m.logger.Info(meta.TaskID, "conversation", fmt.Sprintf("sent %s prompt to session %s", kind, sessionID))
	m.emit(domain.EventSessionPromptSubmitted, domain.EventPayload{
		At:         submittedAt,
		TaskID:     meta.TaskID,
		ProjectID:  meta.ProjectID,
		SessionID:  sessionID,
		Directory:  dir,
		PromptKind: kind,
	})
	return &domain.PromptSubmission{
		SubmittedAt: submittedAt,
		SessionID:   sessionID,
		Prompt:      prompt,
	}, nil
}

// ListConversationMessages returns the normalized messages of a session.
func (m *Manager) ListConversationMessages(ctx context.Context, in domain.ListMessagesInput) ([]domain.ConversationMessageMeta, error) {
	sessionID, err := domain.NormalizeID(in.SessionID, "Session id")
	if err != nil {
		return nil, err
	}
	dir, err := m.resolveDirectory(sessionID, in.WorktreeDirectory)
	if err != nil {
		return nil, err
	}

	client, err := m.provider.Client(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	resp, err := client.Sessions().Messages(ctx, sessionID)
	raw, err := domain.Unwrap(resp, err, "list conversation messages")
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	metas := make([]domain.ConversationMessageMeta, 0, len(raw))
	for i, r := range raw {
		metas = append(metas, normalizeMessage(r, sessionID, i, now).ToMeta())
	}
	return metas, nil
}

// SubscribeToEvents opens the runtime event stream for a session or directory.
// Streams that can be iterated are pumped into OnEvent on a goroutine until
// the subscription is closed.
func (m *Manager) SubscribeToEvents(ctx context.Context, in domain.SubscribeInput) (*domain.Subscription, error) {
	var dir string
	if strings.TrimSpace(in.SessionID) != "" {
		sessionID, err := domain.NormalizeID(in.SessionID, "Session id")
		if err != nil {
			return nil, err
		}
		if dir, err = m.resolveDirectory(sessionID, in.WorktreeDirectory); err != nil {
			return nil, err
		}
	} else {
		var err error
		if dir, err = domain.NormalizeDirectory(in.WorktreeDirectory, "Worktree directory"); err != nil {
			return nil, err
		}
	}

	client, err := m.provider.Client(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("subscribe to conversation events: %w", err)
	}
	resp, err := client.Events().Subscribe(ctx, dir)
	stream, err := domain.Unwrap(resp, err, "subscribe to conversation events")
	if err != nil {
		return nil, err
	}

	return &domain.Subscription{
		Directory:   dir,
		Unsubscribe: m.unsubscriber(stream, in.OnEvent, dir),
	}, nil
}

// unsubscriber adapts a stream handle into an idempotent unsubscribe func.
func (m *Manager) unsubscriber(stream domain.EventStream, onEvent func(domain.RuntimeStreamEvent), dir string) func() error {
	var closeFn func() error

	switch {
	case stream.Next != nil && onEvent != nil:
		pumpCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				ev, err := stream.Next(pumpCtx)
				if err != nil {
					if pumpCtx.Err() == nil && !isEndOfStream(err) {
						m.logger.Warn("", "conversation", fmt.Sprintf("event stream of %s stopped: %v", dir, err))
					}
					return
				}
				onEvent(ev)
			}
		}()
		closeFn = func() error {
			cancel()
			var err error
			if stream.Close != nil {
				err = stream.Close()
			}
			<-done
			return err
		}
	case stream.Close != nil:
		closeFn = stream.Close
	default:
		closeFn = func() error { return nil }
	}

	var once sync.Once
	var closeErr error
	return func() error {
		once.Do(func() { closeErr = closeFn() })
		return closeErr
	}
}

// GetTaskSessionID returns the latest session of a task, or "".
func (m *Manager) GetTaskSessionID(taskID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskSession[strings.TrimSpace(taskID)]
}

// GetSessionDirectory returns the directory a session runs in, or "".
func (m *Manager) GetSessionDirectory(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.directories[strings.TrimSpace(sessionID)]
}

// GetSession returns the metadata of a session.
func (m *Manager) GetSession(sessionID string) (domain.ConversationSessionMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.sessions[strings.TrimSpace(sessionID)]
	return meta, ok
}

// resolveDirectory returns the explicit directory (recording it for the
// session) or the recorded one.
func (m *Manager) resolveDirectory(sessionID, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		dir, err := domain.NormalizeDirectory(explicit, "Worktree directory")
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.directories[sessionID] = dir
		if meta, ok := m.sessions[sessionID]; ok {
			meta.Directory = dir
			m.sessions[sessionID] = meta
		}
		m.mu.Unlock()
		return dir, nil
	}

	m.mu.RLock()
	dir, ok := m.directories[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionDirectoryUnknown)
	}
	return dir, nil
}

// sessionTimes picks the session timestamps from the payload, falling back
// to the nested time object and then to fallback.
func sessionTimes(p domain.SessionPayload, fallback time.Time) (created, updated time.Time) {
	createdMs, updatedMs := p.CreatedAt, p.UpdatedAt
	if p.Time != nil {
		if createdMs == nil {
			createdMs = p.Time.Created
		}
		if updatedMs == nil {
			updatedMs = p.Time.Updated
		}
	}
	created = millisOr(createdMs, fallback)
	updated = millisOr(updatedMs, created)
	return created, updated
}

func millisOr(ms *int64, fallback time.Time) time.Time {
	if ms == nil || *ms <= 0 {
		return fallback
	}
	return time.UnixMilli(*ms)
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}

func (m *Manager) emit(eventType domain.EventType, payload domain.EventPayload) {
	if m.emitter != nil {
		m.emitter.Emit(eventType, payload)
	}
}
