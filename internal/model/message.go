package model

import "time"

// MessageRole distinguishes the two sides of a document conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in a document's question/answer history. Messages are
// append-only; the query path writes them in user/assistant pairs. Sources is
// populated only on assistant messages.
type Message struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	UserID     string         `json:"-"`
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	Sources    []SearchResult `json:"sources,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
