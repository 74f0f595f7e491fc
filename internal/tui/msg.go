package tui

import "github.com/ikanban/ikanban/internal/domain"

// Msg is the sealed interface for all watch view messages.
//
// go-sumtype:decl Msg
type Msg interface {
	sealed()
}

// MsgTaskLoaded is sent when the task runtime is (re)loaded.
type MsgTaskLoaded struct {
	Task *domain.TaskRuntime
}

func (MsgTaskLoaded) sealed() {}

// MsgMessagesLoaded is sent when the conversation is (re)loaded.
type MsgMessagesLoaded struct {
	Messages []domain.ConversationMessageMeta
}

func (MsgMessagesLoaded) sealed() {}

// MsgStreamEvent carries one event of the runtime stream.
type MsgStreamEvent struct {
	Event domain.RuntimeStreamEvent
}

func (MsgStreamEvent) sealed() {}

// MsgLogEntry carries one projected bus log line.
type MsgLogEntry struct {
	Entry domain.LogEntry
}

func (MsgLogEntry) sealed() {}

// MsgWatchStarted is sent once the runtime stream subscription is open.
type MsgWatchStarted struct {
	Subscription *domain.Subscription
}

func (MsgWatchStarted) sealed() {}

// MsgError is sent when an operation fails.
type MsgError struct {
	Err error
}

func (MsgError) sealed() {}
