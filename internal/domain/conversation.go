// Package domain contains the core types shared across Pachai packages.
package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single entry in a conversation history.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationState is the inferred thematic phase of a dialogue. It is
// recomputed from history on every turn and never persisted as ground truth.
type ConversationState string

const (
	StateExploration   ConversationState = "exploration"
	StateClarification ConversationState = "clarification"
	StateConvergence   ConversationState = "convergence"
	StatePause         ConversationState = "pause"
	StateReopening     ConversationState = "reopening"
)

// ConversationStatus is the persisted lifecycle status of a conversation.
// It changes only on explicit user signals.
type ConversationStatus string

const (
	StatusActive ConversationStatus = "active"
	StatusPaused ConversationStatus = "paused"
	StatusClosed ConversationStatus = "closed"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusClosed:
		return true
	}
	return false
}

// Conversation is a single journaling thread inside a product workspace.
type Conversation struct {
	ID             string             `json:"id"`
	ProductID      string             `json:"product_id"`
	OwnerID        string             `json:"owner_id"`
	Title          string             `json:"title"`
	Status         ConversationStatus `json:"status"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	PausedAt       *time.Time         `json:"paused_at,omitempty"`
	ReopenedAt     *time.Time         `json:"reopened_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// StatusUpdate describes a lifecycle write. Nil time fields are left untouched.
type StatusUpdate struct {
	Status         ConversationStatus
	LastActivityAt time.Time
	PausedAt       *time.Time
	ReopenedAt     *time.Time
}

// UserContents returns the content of every user message in order.
func UserContents(history []Message) []string {
	var out []string
	for _, m := range history {
		if m.Role == RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// LastUserMessage returns the most recent user message content, or "".
func LastUserMessage(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// Normalize lower-cases and trims text before lexical matching.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
