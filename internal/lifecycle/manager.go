// Package lifecycle manages persisted conversation status: Active, Paused,
// reopened and Closed. Status changes only on explicit signals and every
// transition is a single atomic write preceded by an access check.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pachai/internal/domain"
)

// Store is the persistence the Manager needs. Implemented by storage.Store.
type Store interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Conversation, error)
	AppendMessage(ctx context.Context, m domain.Message, u *domain.StatusUpdate) (domain.Conversation, error)
	CreateConversation(ctx context.Context, c domain.Conversation) error
	ListConversations(ctx context.Context, productID string) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	DeleteConversation(ctx context.Context, id string) error
}

// AccessChecker decides whether an actor may act on a conversation. It
// returns domain.ErrUnauthorized, ErrForbidden or ErrNotFound on refusal.
type AccessChecker interface {
	CheckConversationAccess(ctx context.Context, actorID, conversationID string) error
	CheckProductAccess(ctx context.Context, actorID, productID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Manager applies lifecycle transitions.
type Manager struct {
	store  Store
	access AccessChecker
	clock  Clock
}

// NewManager creates a Manager using the wall clock.
func NewManager(store Store, access AccessChecker) *Manager {
	return &Manager{store: store, access: access, clock: realClock{}}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, access AccessChecker, clock Clock) *Manager {
	return &Manager{store: store, access: access, clock: clock}
}

// SaveOptions alters SaveMessage.
type SaveOptions struct {
	// SuppressReopen keeps a Paused conversation Paused so the caller can
	// compose the reopening turn before calling MarkReopened.
	SuppressReopen bool
}

func (m *Manager) authorize(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	if err := m.access.CheckConversationAccess(ctx, actorID, conversationID); err != nil {
		return domain.Conversation{}, err
	}
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// Pause sets status Paused and stamps paused_at and last_activity_at.
func (m *Manager) Pause(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	conv, err := m.authorize(ctx, actorID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Status == domain.StatusClosed {
		return domain.Conversation{}, domain.Invalid("status", "conversation is closed")
	}
	now := m.clock.Now()
	return m.store.UpdateConversationStatus(ctx, conversationID, domain.StatusUpdate{
		Status:         domain.StatusPaused,
		LastActivityAt: now,
		PausedAt:       &now,
	})
}

// Resume sets status Active and stamps last_activity_at only.
func (m *Manager) Resume(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	conv, err := m.authorize(ctx, actorID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Status == domain.StatusClosed {
		return domain.Conversation{}, domain.Invalid("status", "conversation is closed")
	}
	return m.store.UpdateConversationStatus(ctx, conversationID, domain.StatusUpdate{
		Status:         domain.StatusActive,
		LastActivityAt: m.clock.Now(),
	})
}

// MarkReopened sets status Active and stamps reopened_at and last_activity_at.
func (m *Manager) MarkReopened(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	conv, err := m.authorize(ctx, actorID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Status == domain.StatusClosed {
		return domain.Conversation{}, domain.Invalid("status", "conversation is closed")
	}
	now := m.clock.Now()
	return m.store.UpdateConversationStatus(ctx, conversationID, domain.StatusUpdate{
		Status:         domain.StatusActive,
		LastActivityAt: now,
		ReopenedAt:     &now,
	})
}

// Close marks the conversation Closed. It stays readable and deletable.
func (m *Manager) Close(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	if _, err := m.authorize(ctx, actorID, conversationID); err != nil {
		return domain.Conversation{}, err
	}
	return m.store.UpdateConversationStatus(ctx, conversationID, domain.StatusUpdate{
		Status:         domain.StatusClosed,
		LastActivityAt: m.clock.Now(),
	})
}

// SaveMessage appends a message. last_activity_at is always updated; a
// Paused conversation flips to Active unless opts.SuppressReopen is set.
// The message and the status write commit together.
func (m *Manager) SaveMessage(ctx context.Context, actorID, conversationID string, role domain.Role, content string, opts SaveOptions) (domain.Message, domain.Conversation, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.Conversation{}, domain.Invalid("content", "must not be empty")
	}
	if role != domain.RoleUser && role != domain.RoleAgent {
		return domain.Message{}, domain.Conversation{}, domain.Invalid("role", "must be user or agent")
	}
	conv, err := m.authorize(ctx, actorID, conversationID)
	if err != nil {
		return domain.Message{}, domain.Conversation{}, err
	}
	if conv.Status == domain.StatusClosed {
		return domain.Message{}, domain.Conversation{}, domain.Invalid("status", "conversation is closed")
	}

	now := m.clock.Now()
	status := conv.Status
	if status == domain.StatusPaused && !opts.SuppressReopen {
		status = domain.StatusActive
	}
	msg := domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	updated, err := m.store.AppendMessage(ctx, msg, &domain.StatusUpdate{Status: status, LastActivityAt: now})
	if err != nil {
		return domain.Message{}, domain.Conversation{}, fmt.Errorf("saving message: %w", err)
	}
	return msg, updated, nil
}
