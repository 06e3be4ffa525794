package api

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is one turn of a conversation. Content is nil when the
// message carries no text.
type ChatMessage struct {
	Role    Role    `json:"role"`
	Content *string `json:"content"`
}

// NewMessage returns a message with the given role and text content.
func NewMessage(role Role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: &text}
}

// UserMessage is shorthand for NewMessage(RoleUser, text).
func UserMessage(text string) ChatMessage { return NewMessage(RoleUser, text) }

// AssistantMessage is shorthand for NewMessage(RoleAssistant, text).
func AssistantMessage(text string) ChatMessage { return NewMessage(RoleAssistant, text) }

// SystemMessage is shorthand for NewMessage(RoleSystem, text).
func SystemMessage(text string) ChatMessage { return NewMessage(RoleSystem, text) }

// Text returns the message content, or "" when it is nil.
func (m ChatMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// UnmarshalJSON rejects unknown roles.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias ChatMessage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if !a.Role.Valid() {
		return fmt.Errorf("unknown role %q", a.Role)
	}
	*m = ChatMessage(a)
	return nil
}

// CloneMessages returns a copy of msgs whose content pointers are not shared
// with the input.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Content != nil {
			s := *m.Content
			out[i].Content = &s
		}
	}
	return out
}

// StreamChunk is one incremental unit of a streamed completion. Delta is
// nil for chunks that carry no text, such as the final one.
type StreamChunk struct {
	Delta        *string `json:"delta,omitempty"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Text returns the chunk delta, or "" when absent.
func (c StreamChunk) Text() string {
	if c.Delta == nil {
		return ""
	}
	return *c.Delta
}

// EmbeddingVector is a pooled embedding. Its length equals the hidden
// dimension of the model that produced it.
type EmbeddingVector []float32

// Dimensions returns the vector length.
func (v EmbeddingVector) Dimensions() int { return len(v) }

// Usage reports token accounting for a completion when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
