package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ikanban/ikanban/internal/domain"
)

// messageFields are the message fields the runtime may send, either at the
// top level or inside an "info" object.
type messageFields struct {
	Time      *domain.SessionTime `json:"time"`
	CreatedAt *float64            `json:"createdAt"`
	Error     any                 `json:"error"`
	ID        *string             `json:"id"`
	Role      *string             `json:"role"`
}

type rawMessage struct {
	Info  *messageFields    `json:"info"`
	Parts []json.RawMessage `json:"parts"`
	messageFields
}

type rawPart struct {
	Text    *string `json:"text"`
	Content *string `json:"content"`
}

// normalizeMessage converts one raw runtime message into a ConversationMessage.
// Anything that cannot be read falls back: the id to <session>:<index>, the
// role to assistant, the creation time to now, a part to empty text.
func normalizeMessage(raw json.RawMessage, sessionID string, index int, now time.Time) domain.ConversationMessage {
	msg := domain.ConversationMessage{
		ID:        fmt.Sprintf("%s:%d", sessionID, index),
		SessionID: sessionID,
		Role:      string(domain.RoleAssistant),
		CreatedAt: now,
	}

	// Mistyped fields are skipped; the rest of the message is still read
	var rm rawMessage
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(raw, &rm); err != nil && !errors.As(err, &typeErr) {
		return msg
	}

	fields := rm.messageFields
	if rm.Info != nil {
		fields = mergeFields(*rm.Info, fields)
	}

	if fields.ID != nil && strings.TrimSpace(*fields.ID) != "" {
		msg.ID = *fields.ID
	}
	if fields.Role != nil {
		msg.Role = *fields.Role
	}
	if ms := createdMillis(fields); ms > 0 {
		msg.CreatedAt = time.UnixMilli(ms)
	}
	msg.HasError = fields.Error != nil
	msg.Parts = normalizeParts(rm.Parts)
	return msg
}

// mergeFields prefers values from info and fills the gaps from top.
func mergeFields(info, top messageFields) messageFields {
	if info.ID == nil {
		info.ID = top.ID
	}
	if info.Role == nil {
		info.Role = top.Role
	}
	if info.CreatedAt == nil {
		info.CreatedAt = top.CreatedAt
	}
	if info.Time == nil {
		info.Time = top.Time
	}
	if info.Error == nil {
		info.Error = top.Error
	}
	return info
}

func createdMillis(f messageFields) int64 {
	if f.CreatedAt != nil {
		return int64(*f.CreatedAt)
	}
	if f.Time != nil && f.Time.Created != nil {
		return *f.Time.Created
	}
	return 0
}

func normalizeParts(raw []json.RawMessage) []domain.MessagePart {
	parts := make([]domain.MessagePart, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			parts = append(parts, domain.MessagePart{Text: s})
			continue
		}
		var p rawPart
		if err := json.Unmarshal(r, &p); err != nil {
			parts = append(parts, domain.MessagePart{})
			continue
		}
		switch {
		case p.Text != nil:
			parts = append(parts, domain.MessagePart{Text: *p.Text})
		case p.Content != nil:
			parts = append(parts, domain.MessagePart{Text: *p.Content})
		default:
			parts = append(parts, domain.MessagePart{})
		}
	}
	return parts
}
