package storage

import (
	"context"

	"github.com/kalambet/pachai/internal/domain"
)

// CheckConversationAccess returns nil when actorID owns the conversation.
// It returns ErrUnauthorized for an empty actor, ErrNotFound for an unknown
// conversation and ErrForbidden otherwise.
func (s *Store) CheckConversationAccess(ctx context.Context, actorID, conversationID string) error {
	if actorID == "" {
		return domain.ErrUnauthorized
	}
	owner, err := s.ConversationOwner(ctx, conversationID)
	if err != nil {
		return err
	}
	if owner != actorID {
		return domain.ErrForbidden
	}
	return nil
}

// CheckProductAccess is CheckConversationAccess for products.
func (s *Store) CheckProductAccess(ctx context.Context, actorID, productID string) error {
	if actorID == "" {
		return domain.ErrUnauthorized
	}
	owner, err := s.ProductOwner(ctx, productID)
	if err != nil {
		return err
	}
	if owner != actorID {
		return domain.ErrForbidden
	}
	return nil
}
