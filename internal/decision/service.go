// Package decision records user-confirmed veredicts. A veredict is only
// written on explicit confirmation; versions are assigned by storage.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pachai/internal/domain"
)

// Store is the persistence the Service needs. Implemented by storage.Store.
type Store interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	CreateVeredict(ctx context.Context, v domain.Veredict) (domain.Veredict, error)
	ListVeredicts(ctx context.Context, productID string) ([]domain.Veredict, error)
}

// AccessChecker is implemented by storage.Store.
type AccessChecker interface {
	CheckConversationAccess(ctx context.Context, actorID, conversationID string) error
	CheckProductAccess(ctx context.Context, actorID, productID string) error
}

// ConfirmRequest carries a veredict proposal the user has accepted.
type ConfirmRequest struct {
	ConversationID string `json:"conversation_id"`
	Pain           string `json:"pain"`
	Value          string `json:"value"`
	Notes          string `json:"notes,omitempty"`
	Confirmed      bool   `json:"confirmed"`
}

// Service confirms and lists veredicts.
type Service struct {
	store  Store
	access AccessChecker
	now    func() time.Time
}

func NewService(store Store, access AccessChecker) *Service {
	return &Service{store: store, access: access, now: func() time.Time { return time.Now().UTC() }}
}

// Confirm validates req, checks access and persists the next veredict
// version for the conversation's product.
func (s *Service) Confirm(ctx context.Context, actorID string, req ConfirmRequest) (domain.Veredict, error) {
	if !req.Confirmed {
		return domain.Veredict{}, domain.Invalid("confirmed", "veredict requires explicit user confirmation")
	}
	pain := strings.TrimSpace(req.Pain)
	value := strings.TrimSpace(req.Value)
	if pain == "" {
		return domain.Veredict{}, domain.Invalid("pain", "must not be empty")
	}
	if value == "" {
		return domain.Veredict{}, domain.Invalid("value", "must not be empty")
	}
	if req.ConversationID == "" {
		return domain.Veredict{}, domain.Invalid("conversation_id", "must not be empty")
	}

	if err := s.access.CheckConversationAccess(ctx, actorID, req.ConversationID); err != nil {
		return domain.Veredict{}, err
	}
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return domain.Veredict{}, fmt.Errorf("loading conversation: %w", err)
	}

	v, err := s.store.CreateVeredict(ctx, domain.Veredict{
		ID:             uuid.New().String(),
		ProductID:      conv.ProductID,
		ConversationID: conv.ID,
		Pain:           pain,
		Value:          value,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Veredict{}, fmt.Errorf("creating veredict: %w", err)
	}
	return v, nil
}

// List returns a product's veredicts in version order.
func (s *Service) List(ctx context.Context, actorID, productID string) ([]domain.Veredict, error) {
	if err := s.access.CheckProductAccess(ctx, actorID, productID); err != nil {
		return nil, err
	}
	return s.store.ListVeredicts(ctx, productID)
}
