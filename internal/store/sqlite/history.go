package sqlite

import (
	"context"
	"database/sql"

	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

const queryColumns = `id, user_id, connection_id, title, sql, status, row_count, duration_ms, error_message, is_saved, created_at, updated_at`

// RecordQuery appends rec to the query history.
func (s *Store) RecordQuery(ctx context.Context, rec *store.QueryRecord) error {
	rec.ID = newID(rec.ID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.UpdatedAt = rec.CreatedAt

	var errMsg any
	if rec.ErrorMessage != "" {
		errMsg = rec.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (`+queryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ConnectionID, rec.Title, rec.SQL, rec.Status,
		rec.RowCount, rec.DurationMS, errMsg, rec.Saved,
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	)
	return mapError(err, "record query")
}

// ListQueries returns one page of the user's history, newest first, and the
// total number of matching records.
func (s *Store) ListQueries(ctx context.Context, userID string, f store.HistoryFilter) ([]store.QueryRecord, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	if f.Limit > maxHistoryLimit {
		f.Limit = maxHistoryLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	where := `WHERE user_id = ?`
	args := []any{userID}
	if f.ConnectionID != "" {
		where += ` AND connection_id = ?`
		args = append(args, f.ConnectionID)
	}
	order := `seq DESC`
	if f.SavedOnly {
		where += ` AND is_saved = 1`
		order = `updated_at DESC, seq DESC`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "count queries")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queryColumns+`
		FROM queries `+where+`
		ORDER BY `+order+`
		LIMIT ? OFFSET ?`,
		append(args, f.Limit, (f.Page-1)*f.Limit)...,
	)
	if err != nil {
		return nil, 0, mapError(err, "list queries")
	}
	defer rows.Close()

	out := make([]store.QueryRecord, 0, f.Limit)
	for rows.Next() {
		r, err := scanQuery(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err, "iterate query rows")
	}
	return out, total, nil
}

// GetQuery returns one history record owned by userID.
func (s *Store) GetQuery(ctx context.Context, userID, queryID string) (*store.QueryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ? AND user_id = ?`, queryID, userID)
	r, err := scanQuery(row)
	if errs.IsNotFound(err) {
		return nil, errs.New(errs.ErrKindNotFound, "query not found")
	}
	return r, err
}

// DeleteQuery removes one history record owned by userID.
func (s *Store) DeleteQuery(ctx context.Context, userID, queryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE id = ? AND user_id = ?`, queryID, userID)
	if err != nil {
		return mapError(err, "delete query")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.ErrKindNotFound, "query not found")
	}
	return nil
}

// ToggleSaved flips the bookmark flag of a record and returns it updated.
func (s *Store) ToggleSaved(ctx context.Context, userID, queryID string) (*store.QueryRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET is_saved = 1 - is_saved, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		toMillis(s.now()), queryID, userID,
	)
	if err != nil {
		return nil, mapError(err, "toggle saved")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.New(errs.ErrKindNotFound, "query not found")
	}
	return s.GetQuery(ctx, userID, queryID)
}

func scanQuery(sc scanner) (*store.QueryRecord, error) {
	var (
		r                store.QueryRecord
		errMsg           sql.NullString
		created, updated int64
	)
	err := sc.Scan(&r.ID, &r.UserID, &r.ConnectionID, &r.Title, &r.SQL, &r.Status,
		&r.RowCount, &r.DurationMS, &errMsg, &r.Saved, &created, &updated)
	if err != nil {
		return nil, mapError(err, "scan query row")
	}
	r.ErrorMessage = errMsg.String
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}
