// Package product manages product workspaces and their context text. Context
// changes always carry an explicit reason and leave an audit row behind.
package product

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pachai/internal/domain"
)

// Store is implemented by storage.Store.
type Store interface {
	CreateProduct(ctx context.Context, p domain.Product) error
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	UpdateProductContext(ctx context.Context, change domain.ProductContextChange) (domain.ProductContextChange, error)
	ListProductContextChanges(ctx context.Context, productID string) ([]domain.ProductContextChange, error)
	CheckProductAccess(ctx context.Context, actorID, productID string) error
}

// Service is the product workspace API.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Create makes a product owned by actorID. An initial context, when given,
// is stored as is; later edits go through UpdateContext.
func (s *Service) Create(ctx context.Context, actorID, name, initialContext string) (domain.Product, error) {
	if actorID == "" {
		return domain.Product{}, domain.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Product{}, domain.Invalid("name", "must not be empty")
	}
	now := s.now()
	p := domain.Product{
		ID:        uuid.New().String(),
		OwnerID:   actorID,
		Name:      name,
		Context:   initialContext,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, actorID, productID string) (domain.Product, error) {
	if err := s.store.CheckProductAccess(ctx, actorID, productID); err != nil {
		return domain.Product{}, err
	}
	return s.store.GetProduct(ctx, productID)
}

func (s *Service) List(ctx context.Context, actorID string) ([]domain.Product, error) {
	if actorID == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.store.ListProducts(ctx, actorID)
}

func (s *Service) Delete(ctx context.Context, actorID, productID string) error {
	if err := s.store.CheckProductAccess(ctx, actorID, productID); err != nil {
		return err
	}
	return s.store.DeleteProduct(ctx, productID)
}

// UpdateContext replaces the product context. A blank reason is rejected
// before any write.
func (s *Service) UpdateContext(ctx context.Context, actorID, productID, text, reason string) (domain.ProductContextChange, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ProductContextChange{}, domain.Invalid("reason", "context changes require an explicit reason")
	}
	if err := s.store.CheckProductAccess(ctx, actorID, productID); err != nil {
		return domain.ProductContextChange{}, err
	}
	change, err := s.store.UpdateProductContext(ctx, domain.ProductContextChange{
		ID:        uuid.New().String(),
		ProductID: productID,
		ActorID:   actorID,
		Next:      text,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.ProductContextChange{}, fmt.Errorf("updating product context: %w", err)
	}
	return change, nil
}

// History lists context changes oldest first.
func (s *Service) History(ctx context.Context, actorID, productID string) ([]domain.ProductContextChange, error) {
	if err := s.store.CheckProductAccess(ctx, actorID, productID); err != nil {
		return nil, err
	}
	return s.store.ListProductContextChanges(ctx, productID)
}

// ImportPDF extracts the text of a PDF and stores it as the product context.
func (s *Service) ImportPDF(ctx context.Context, actorID, productID, path, reason string) (domain.ProductContextChange, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.ProductContextChange{}, domain.Invalid("reason", "context changes require an explicit reason")
	}
	text, err := ExtractPDFText(path)
	if err != nil {
		return domain.ProductContextChange{}, err
	}
	return s.UpdateContext(ctx, actorID, productID, text, reason)
}
