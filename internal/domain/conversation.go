package domain

import (
	"strings"
	"time"
)

// ConversationRole is the author role of a conversation message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleTool      ConversationRole = "tool"
)

// ParseConversationRole maps a raw role onto the known set.
// Unknown roles become assistant so that every message stays renderable.
func ParseConversationRole(s string) ConversationRole {
	switch r := ConversationRole(s); r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return r
	default:
		return RoleAssistant
	}
}

// ConversationSessionMeta describes the agent session bound to a task.
type ConversationSessionMeta struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time // Zero until the first prompt
	SessionID     string
	ProjectID     string
	TaskID        string
	Directory     string
	Title         string
}

// Touch records prompt activity at the given time.
func (s ConversationSessionMeta) Touch(at time.Time) ConversationSessionMeta {
	s.UpdatedAt = at
	s.LastMessageAt = at
	return s
}

// MessagePart is a normalized message part. Unreadable parts have empty text.
type MessagePart struct {
	Text string
}

// ConversationMessage is a tolerant view of a raw runtime message.
type ConversationMessage struct {
	CreatedAt time.Time
	ID        string
	SessionID string
	Role      string
	Parts     []MessagePart
	HasError  bool
}

// ConversationMessageMeta is the summary the UI renders for a message.
type ConversationMessageMeta struct {
	CreatedAt time.Time
	ID        string
	SessionID string
	Role      ConversationRole
	Preview   string
	PartCount int
	HasError  bool
}

// ToMeta flattens a message into its displayable summary.
func (m ConversationMessage) ToMeta() ConversationMessageMeta {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return ConversationMessageMeta{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      ParseConversationRole(m.Role),
		CreatedAt: m.CreatedAt,
		PartCount: len(m.Parts),
		Preview:   strings.TrimSpace(b.String()),
		HasError:  m.HasError,
	}
}

// CreateSessionInput configures session creation for a task.
type CreateSessionInput struct {
	Timestamp         time.Time // Fallback creation time (zero = now)
	ProjectID         string
	TaskID            string
	ProjectDirectory  string
	WorktreeDirectory string
	Title             string
}

// ModelRef selects a provider model for a prompt.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// SendPromptInput configures a prompt submission.
type SendPromptInput struct {
	Model             *ModelRef
	SessionID         string
	Prompt            string
	WorktreeDirectory string // Optional; re-recorded when given
}

// PromptSubmission reports an accepted prompt.
type PromptSubmission struct {
	SubmittedAt time.Time
	SessionID   string
	Prompt      string
}

// ListMessagesInput selects the session whose messages are listed.
type ListMessagesInput struct {
	SessionID         string
	WorktreeDirectory string
}

// SubscribeInput configures an event subscription.
// Either SessionID or WorktreeDirectory must resolve to a directory.
type SubscribeInput struct {
	OnEvent           func(RuntimeStreamEvent)
	SessionID         string
	WorktreeDirectory string
}

// Subscription is a uniform handle over a runtime event stream.
type Subscription struct {
	Unsubscribe func() error
	Directory   string
}
