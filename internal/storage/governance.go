package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pachai/internal/governance"
)

const foundationalColumns = `code, title, rule_text, enforcement_scope, priority, is_active, version`

func scanFoundational(row rowScanner) (governance.FoundationalVeredict, error) {
	var v governance.FoundationalVeredict
	var scope string
	if err := row.Scan(&v.Code, &v.Title, &v.RuleText, &scope, &v.Priority, &v.IsActive, &v.Version); err != nil {
		return governance.FoundationalVeredict{}, err
	}
	v.EnforcementScope = governance.Phase(scope)
	return v, nil
}

// ActiveVeredicts returns active foundational veredicts ordered by scope
// then priority.
func (s *Store) ActiveVeredicts(ctx context.Context) ([]governance.FoundationalVeredict, error) {
	return s.listFoundational(ctx, `WHERE is_active = 1`)
}

// ListFoundationalVeredicts returns every foundational veredict, active or not.
func (s *Store) ListFoundationalVeredicts(ctx context.Context) ([]governance.FoundationalVeredict, error) {
	return s.listFoundational(ctx, ``)
}

func (s *Store) listFoundational(ctx context.Context, where string) ([]governance.FoundationalVeredict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+foundationalColumns+` FROM foundational_veredicts `+where+`
		ORDER BY enforcement_scope ASC, priority ASC, code ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying foundational veredicts: %w", err)
	}
	defer rows.Close()

	results := []governance.FoundationalVeredict{}
	for rows.Next() {
		v, err := scanFoundational(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// SyncFoundationalVeredicts upserts rules by code. A rule whose content
// differs from the stored row has the old revision archived and its version
// incremented; identical rules are left untouched.
func (s *Store) SyncFoundationalVeredicts(ctx context.Context, rules []governance.FoundationalVeredict) (inserted, updated int, err error) {
	now := formatTime(time.Now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rules {
			cur, err := scanFoundational(tx.QueryRowContext(ctx,
				`SELECT `+foundationalColumns+` FROM foundational_veredicts WHERE code = ?`, r.Code))
			if errors.Is(err, sql.ErrNoRows) {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO foundational_veredicts (code, title, rule_text, enforcement_scope, priority, is_active, version, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
					r.Code, r.Title, r.RuleText, string(r.EnforcementScope), r.Priority, r.IsActive, now,
				); err != nil {
					return fmt.Errorf("inserting foundational veredict %s: %w", r.Code, err)
				}
				inserted++
				continue
			}
			if err != nil {
				return fmt.Errorf("reading foundational veredict %s: %w", r.Code, err)
			}
			if sameContent(cur, r) {
				continue
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO foundational_veredict_history (code, version, title, rule_text, enforcement_scope, priority, is_active, archived_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				cur.Code, cur.Version, cur.Title, cur.RuleText, string(cur.EnforcementScope), cur.Priority, cur.IsActive, now,
			); err != nil {
				return fmt.Errorf("archiving foundational veredict %s: %w", r.Code, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE foundational_veredicts
				SET title = ?, rule_text = ?, enforcement_scope = ?, priority = ?, is_active = ?, version = version + 1, updated_at = ?
				WHERE code = ?`,
				r.Title, r.RuleText, string(r.EnforcementScope), r.Priority, r.IsActive, now, r.Code,
			); err != nil {
				return fmt.Errorf("updating foundational veredict %s: %w", r.Code, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

func sameContent(a, b governance.FoundationalVeredict) bool {
	return a.Title == b.Title &&
		a.RuleText == b.RuleText &&
		a.EnforcementScope == b.EnforcementScope &&
		a.Priority == b.Priority &&
		a.IsActive == b.IsActive
}

// FoundationalVeredictHistory returns archived revisions of a rule, oldest first.
func (s *Store) FoundationalVeredictHistory(ctx context.Context, code string) ([]governance.FoundationalVeredict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+foundationalColumns+` FROM foundational_veredict_history
		WHERE code = ? ORDER BY version ASC`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []governance.FoundationalVeredict{}
	for rows.Next() {
		v, err := scanFoundational(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// RecordViolation appends an audit row.
func (s *Store) RecordViolation(ctx context.Context, rec governance.AuditRecord) error {
	details := "{}"
	if len(rec.Details) > 0 {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshalling violation details: %w", err)
		}
		details = string(b)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO veredict_violations (id, rule_code, phase, conversation_id, reason, details, was_blocked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.RuleCode, string(rec.Phase), rec.ConversationID, rec.Reason, details, rec.WasBlocked, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("inserting violation: %w", err)
	}
	return nil
}

// ListViolations returns audit rows newest first. An empty conversationID
// lists across all conversations.
func (s *Store) ListViolations(ctx context.Context, conversationID string, limit int) ([]ViolationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, rule_code, phase, conversation_id, reason, details, was_blocked, created_at FROM veredict_violations`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []ViolationRecord{}
	for rows.Next() {
		var r ViolationRecord
		var phase, details, createdAt string
		if err := rows.Scan(&r.ID, &r.RuleCode, &phase, &r.ConversationID, &r.Reason, &details, &r.WasBlocked, &createdAt); err != nil {
			return nil, err
		}
		r.Phase = governance.Phase(phase)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
				return nil, fmt.Errorf("parsing violation details: %w", err)
			}
		}
		if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
