// Package chatlog is the small stateful chat-message log the
// ConversationCoordinator and SessionSnapshot read and write. spec.md §1
// treats "the chat message history manager" as an external collaborator
// specified only as "a stateful log with append and trim"; this package is
// the concrete, in-process default for that role, generalizing the
// teacher's pkg/chat.ChatService thread/message bookkeeping (AddMessage,
// AddUserMessage, AddAssistantMessage, ClearThread) from a SQLite-backed
// multi-thread model to a single live session's message slice.
package chatlog

import "sync"

// Message is one chat turn, matching the session-snapshot wire shape
// (spec.md §4.6/§6): {role, content, active, timestamp}.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Active    bool   `json:"active"`
	Timestamp int64  `json:"timestamp"`
}

// Log is the session's chat history: an optional leading system prompt
// plus an append-only slice of turns.
type Log struct {
	mu       sync.Mutex
	system   *Message
	messages []Message
}

// New returns an empty log, optionally seeded with a system prompt.
func New(systemPrompt string, now int64) *Log {
	l := &Log{}
	if systemPrompt != "" {
		l.system = &Message{Role: "system", Content: systemPrompt, Active: true, Timestamp: now}
	}
	return l
}

// Append adds one or more messages to the end of the log.
func (l *Log) Append(messages ...Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, messages...)
}

// Messages returns every non-system message, oldest first.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// ResetToSystemPrompt truncates the log back to just its system message
// (or empty, if none was set), used by replace-mode snapshot import.
func (l *Log) ResetToSystemPrompt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}

// SystemPrompt returns the log's system message and whether one is set.
func (l *Log) SystemPrompt() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.system == nil {
		return Message{}, false
	}
	return *l.system, true
}
