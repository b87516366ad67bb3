package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/programmerrush/InsightDB-api/internal/store"
)

// RecordAudit appends e to the audit log.
func (s *Store) RecordAudit(ctx context.Context, e *store.AuditEntry) error {
	e.ID = newID(e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return mapError(err, "encode audit details")
		}
		details = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, resource, resource_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.Resource, e.ResourceID, details, toMillis(e.CreatedAt),
	)
	return mapError(err, "record audit entry")
}

// ListAudit returns the user's most recent audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource, COALESCE(resource_id, ''), details, created_at
		FROM audit_log WHERE user_id = ?
		ORDER BY seq DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, mapError(err, "list audit entries")
	}
	defer rows.Close()

	out := make([]store.AuditEntry, 0)
	for rows.Next() {
		var (
			e       store.AuditEntry
			details sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &details, &created); err != nil {
			return nil, mapError(err, "scan audit row")
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, mapError(err, "decode audit details")
			}
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate audit rows")
	}
	return out, nil
}
