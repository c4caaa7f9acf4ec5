package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/pachai/internal/domain"
)

const productColumns = `id, owner_id, name, context, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Context, &createdAt, &updatedAt); err != nil {
		return domain.Product{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return domain.Product{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Context, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProductContext replaces the product context and appends the change
// row in one transaction. The stored previous value is read inside the
// transaction, not taken from the caller.
func (s *Store) UpdateProductContext(ctx context.Context, change domain.ProductContextChange) (domain.ProductContextChange, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var previous string
		err := tx.QueryRowContext(ctx, `SELECT context FROM products WHERE id = ?`, change.ProductID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading product context: %w", err)
		}
		change.Previous = previous

		if _, err := tx.ExecContext(ctx, `UPDATE products SET context = ?, updated_at = ? WHERE id = ?`,
			change.Next, formatTime(change.CreatedAt), change.ProductID); err != nil {
			return fmt.Errorf("updating product context: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_context_changes (id, product_id, actor_id, previous, next, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			change.ID, change.ProductID, change.ActorID, change.Previous, change.Next, change.Reason, formatTime(change.CreatedAt),
		); err != nil {
			return fmt.Errorf("recording context change: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ProductContextChange{}, err
	}
	return change, nil
}

func (s *Store) ListProductContextChanges(ctx context.Context, productID string) ([]domain.ProductContextChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, actor_id, previous, next, reason, created_at
		FROM product_context_changes WHERE product_id = ? ORDER BY created_at ASC, rowid ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.ProductContextChange{}
	for rows.Next() {
		var c domain.ProductContextChange
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProductID, &c.ActorID, &c.Previous, &c.Next, &c.Reason, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
