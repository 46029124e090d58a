// ABOUTME: Conversation data model: messages, roles, context types, summaries.
// ABOUTME: Shared by the reducer, session controller, history client and local cache.

package chat

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextType scopes a conversation to general prep or a specific session.
type ContextType string

const (
	ContextGeneral ContextType = "general"
	ContextSession ContextType = "session"
)

// Message is one turn in a conversation. Content is mutable only while the
// message is actively streaming; Timestamp is replaced with the
// server-provided time once the turn finalizes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary is metadata for a previously-persisted conversation.
// Immutable once fetched; used for history listing.
type ConversationSummary struct {
	ID          string      `json:"id"`
	Title       *string     `json:"title"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ContextType ContextType `json:"context_type"`
	SessionID   string      `json:"session_id,omitempty"`
}

// StoredMessage is one persisted turn as returned by the history API.
// CreatedAt is nil for rows the backend stored without a timestamp.
type StoredMessage struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
