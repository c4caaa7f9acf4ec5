package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kalambet/pachai/internal/domain"
)

// CreateVeredict assigns the next per-product version and inserts the record
// in one transaction. UNIQUE(product_id, version) backs the sequence if two
// writers race.
func (s *Store) CreateVeredict(ctx context.Context, v domain.Veredict) (domain.Veredict, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var latest int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM veredicts WHERE product_id = ?`, v.ProductID,
		).Scan(&latest); err != nil {
			return fmt.Errorf("reading latest veredict version: %w", err)
		}
		v.Version = latest + 1

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO veredicts (id, product_id, conversation_id, pain, value, notes, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.ProductID, v.ConversationID, v.Pain, v.Value, v.Notes, v.Version, formatTime(v.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting veredict: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Veredict{}, err
	}
	return v, nil
}

// ListVeredicts returns a product's veredicts in version order.
func (s *Store) ListVeredicts(ctx context.Context, productID string) ([]domain.Veredict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, conversation_id, pain, value, notes, version, created_at
		FROM veredicts WHERE product_id = ? ORDER BY version ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.Veredict{}
	for rows.Next() {
		var v domain.Veredict
		var createdAt string
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ConversationID, &v.Pain, &v.Value, &v.Notes, &v.Version, &createdAt); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}
