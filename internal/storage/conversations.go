package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/pachai/internal/domain"
)

const conversationColumns = `id, product_id, owner_id, title, status, last_activity_at, paused_at, reopened_at, created_at`

func scanConversation(row rowScanner) (domain.Conversation, error) {
	var c domain.Conversation
	var status, lastActivity, createdAt string
	var pausedAt, reopenedAt sql.NullString
	if err := row.Scan(&c.ID, &c.ProductID, &c.OwnerID, &c.Title, &status, &lastActivity, &pausedAt, &reopenedAt, &createdAt); err != nil {
		return domain.Conversation{}, err
	}
	c.Status = domain.ConversationStatus(status)
	var err error
	if c.LastActivityAt, err = parseTime("last_activity_at", lastActivity); err != nil {
		return domain.Conversation{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return domain.Conversation{}, err
	}
	if c.PausedAt, err = parseNullTime("paused_at", pausedAt); err != nil {
		return domain.Conversation{}, err
	}
	if c.ReopenedAt, err = parseNullTime("reopened_at", reopenedAt); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c domain.Conversation) error {
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProductID, c.OwnerID, c.Title, string(c.Status), formatTime(c.LastActivityAt),
		formatNullTime(c.PausedAt), formatNullTime(c.ReopenedAt), formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListConversations(ctx context.Context, productID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE product_id = ? ORDER BY last_activity_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
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

// UpdateConversationStatus applies a lifecycle write in one statement.
func (s *Store) UpdateConversationStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Conversation, error) {
	var out domain.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyStatus(ctx, tx, id, u); err != nil {
			return err
		}
		c, err := scanConversation(tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("reading conversation: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

func applyStatus(ctx context.Context, tx *sql.Tx, id string, u domain.StatusUpdate) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			status = ?,
			last_activity_at = ?,
			paused_at = COALESCE(?, paused_at),
			reopened_at = COALESCE(?, reopened_at)
		WHERE id = ?`,
		string(u.Status), formatTime(u.LastActivityAt), formatNullTime(u.PausedAt), formatNullTime(u.ReopenedAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
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

// AppendMessage inserts a message and, when u is non-nil, applies the
// accompanying status write in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, m domain.Message, u *domain.StatusUpdate) (domain.Conversation, error) {
	var out domain.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, string(m.Role), m.Content, formatTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		if u != nil {
			if err := applyStatus(ctx, tx, m.ConversationID, *u); err != nil {
				return err
			}
		}
		c, err := scanConversation(tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, m.ConversationID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading conversation: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

// ListMessages returns the conversation's messages oldest first. limit <= 0
// returns all of them; otherwise the most recent limit messages.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, conversation_id, role, content, created_at, rowid AS seq FROM messages
			WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, createdAt string
		dest := []any{&m.ID, &m.ConversationID, &role, &m.Content, &createdAt}
		if limit > 0 {
			var seq int64
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// ConversationOwner returns the owner of a conversation, used for access
// checks.
func (s *Store) ConversationOwner(ctx context.Context, conversationID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

// ProductOwner returns the owner of a product, used for access checks.
func (s *Store) ProductOwner(ctx context.Context, productID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM products WHERE id = ?`, productID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}
