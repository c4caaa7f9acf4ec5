package lifecycle

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/pachai/internal/domain"
)

// Create starts a conversation in a product the actor owns. New
// conversations are Active.
func (m *Manager) Create(ctx context.Context, actorID, productID, title string) (domain.Conversation, error) {
	if err := m.access.CheckProductAccess(ctx, actorID, productID); err != nil {
		return domain.Conversation{}, err
	}
	now := m.clock.Now()
	c := domain.Conversation{
		ID:             uuid.New().String(),
		ProductID:      productID,
		OwnerID:        actorID,
		Title:          strings.TrimSpace(title),
		Status:         domain.StatusActive,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := m.store.CreateConversation(ctx, c); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

// Get returns a conversation the actor may access.
func (m *Manager) Get(ctx context.Context, actorID, conversationID string) (domain.Conversation, error) {
	return m.authorize(ctx, actorID, conversationID)
}

// List returns the conversations of a product.
func (m *Manager) List(ctx context.Context, actorID, productID string) ([]domain.Conversation, error) {
	if err := m.access.CheckProductAccess(ctx, actorID, productID); err != nil {
		return nil, err
	}
	return m.store.ListConversations(ctx, productID)
}

// Messages returns the conversation history oldest first. limit > 0 keeps
// only the most recent messages.
func (m *Manager) Messages(ctx context.Context, actorID, conversationID string, limit int) ([]domain.Message, error) {
	if err := m.access.CheckConversationAccess(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, conversationID, limit)
}

// Delete removes a conversation and its messages. Veredicts recorded from it
// are kept.
func (m *Manager) Delete(ctx context.Context, actorID, conversationID string) error {
	if err := m.access.CheckConversationAccess(ctx, actorID, conversationID); err != nil {
		return err
	}
	return m.store.DeleteConversation(ctx, conversationID)
}
