// Package llm defines the language model capability used to produce the
// agent's replies.
package llm

import (
	"context"
)

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest contains parameters for a chat completion.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the completion result.
type ChatResponse struct {
	Message      Message
	TokensUsed   int
	FinishReason string
}

// Capabilities describes a language model backend.
type Capabilities struct {
	Model              string
	SupportsSystemRole bool
	MaxContextTokens   int
}

// Model is implemented by every language model backend.
type Model interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Capabilities() Capabilities
}

// History is an append-only conversation log with a fixed system prompt.
// It is not safe for concurrent use.
type History struct {
	system   string
	messages []Message
	max      int
}

// NewHistory creates a history that keeps at most max non-system messages.
// A max of zero keeps everything.
func NewHistory(system string, max int) *History {
	return &History{system: system, max: max}
}

// Add appends a message, dropping the oldest ones beyond the limit.
func (h *History) Add(role MessageRole, content string) {
	h.messages = append(h.messages, Message{Role: role, Content: content})
	if h.max > 0 && len(h.messages) > h.max {
		h.messages = h.messages[len(h.messages)-h.max:]
	}
}

// Messages returns the system prompt followed by the conversation.
func (h *History) Messages() []Message {
	out := make([]Message, 0, len(h.messages)+1)
	if h.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}
	return append(out, h.messages...)
}

// Turns returns the conversation without the system prompt.
func (h *History) Turns() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}
