package sqlite

import (
	"context"
	"database/sql"

	"github.com/programmerrush/InsightDB-api/internal/store"
)

const previewRunes = 80

const turnColumns = `id, user_id, session_id, COALESCE(connection_id, ''), role, content, metadata, created_at`

// AppendTurn stores one chat message.
func (s *Store) AppendTurn(ctx context.Context, t *store.Turn) error {
	t.ID = newID(t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	var conn, meta any
	if t.ConnectionID != "" {
		conn = t.ConnectionID
	}
	if len(t.Metadata) > 0 {
		meta = string(t.Metadata)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, user_id, session_id, connection_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, conn, t.Role, t.Content, meta, toMillis(t.CreatedAt),
	)
	return mapError(err, "append chat turn")
}

// RecentTurns returns up to n of the latest turns of a session in
// chronological order.
func (s *Store) RecentTurns(ctx context.Context, userID, sessionID string, n int) ([]store.Turn, error) {
	if n <= 0 {
		return []store.Turn{}, nil
	}
	turns, err := s.queryTurns(ctx, `
		SELECT `+turnColumns+` FROM chat_messages
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq DESC LIMIT ?`,
		userID, sessionID, n,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SessionTurns returns every turn of a session in chronological order.
func (s *Store) SessionTurns(ctx context.Context, userID, sessionID string) ([]store.Turn, error) {
	return s.queryTurns(ctx, `
		SELECT `+turnColumns+` FROM chat_messages
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq ASC`,
		userID, sessionID,
	)
}

// ListSessions groups the user's turns by session, most recent first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id,
		       MAX(m.created_at),
		       COUNT(*),
		       COALESCE((
		         SELECT f.content FROM chat_messages f
		         WHERE f.user_id = m.user_id AND f.session_id = m.session_id AND f.role = 'user'
		         ORDER BY f.seq ASC LIMIT 1
		       ), '')
		FROM chat_messages m
		WHERE m.user_id = ?
		GROUP BY m.session_id
		ORDER BY MAX(m.seq) DESC`,
		userID,
	)
	if err != nil {
		return nil, mapError(err, "list chat sessions")
	}
	defer rows.Close()

	out := make([]store.SessionSummary, 0)
	for rows.Next() {
		var (
			ss   store.SessionSummary
			last int64
		)
		if err := rows.Scan(&ss.SessionID, &last, &ss.MessageCount, &ss.Preview); err != nil {
			return nil, mapError(err, "scan chat session row")
		}
		ss.LastMessageAt = fromMillis(last)
		if r := []rune(ss.Preview); len(r) > previewRunes {
			ss.Preview = string(r[:previewRunes])
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate chat session rows")
	}
	return out, nil
}

// DeleteSession removes every turn of a session and reports how many were
// deleted.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	if err != nil {
		return 0, mapError(err, "delete chat session")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) queryTurns(ctx context.Context, q string, args ...any) ([]store.Turn, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "list chat turns")
	}
	defer rows.Close()

	out := make([]store.Turn, 0)
	for rows.Next() {
		var (
			t       store.Turn
			meta    sql.NullString
			created int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.SessionID, &t.ConnectionID, &t.Role, &t.Content, &meta, &created); err != nil {
			return nil, mapError(err, "scan chat turn")
		}
		if meta.Valid {
			t.Metadata = []byte(meta.String)
		}
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate chat turns")
	}
	return out, nil
}
