package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

const connectionColumns = `id, user_id, name, db_type, host, port, database_name, username, ssl, last_connected_at, created_at, updated_at`

// InsertConnection encrypts password and saves c. ID and timestamps are
// filled in when empty.
func (s *Store) InsertConnection(ctx context.Context, c *store.Connection, password string) error {
	sealed, err := s.sealer.Encrypt(password)
	if err != nil {
		return err
	}

	now := s.now()
	c.ID = newID(c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var last any
	if c.LastConnectedAt != nil {
		last = toMillis(*c.LastConnectedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (id, user_id, name, db_type, host, port, database_name, username, encrypted_password, ssl, last_connected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Dialect), c.Host, c.Port, c.Database, c.Username, sealed, c.TLS, last,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	return mapError(err, "insert connection")
}

// GetConnection returns the connection if userID owns it.
func (s *Store) GetConnection(ctx context.Context, userID, connectionID string) (*store.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ? AND user_id = ?`,
		connectionID, userID,
	)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.ErrKindNotFound, "connection not found")
		}
		return nil, mapError(err, "get connection")
	}
	return c, nil
}

// ListConnections returns the user's connections, most recently updated first.
func (s *Store) ListConnections(ctx context.Context, userID string) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY updated_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, mapError(err, "list connections")
	}
	defer rows.Close()

	out := make([]store.Connection, 0)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, mapError(err, "scan connection row")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate connection rows")
	}
	return out, nil
}

// UpdateConnection rewrites the editable fields of c if c.UserID owns it.
// A nil password keeps the stored secret.
func (s *Store) UpdateConnection(ctx context.Context, c *store.Connection, password *string) error {
	var sealed any
	if password != nil {
		enc, err := s.sealer.Encrypt(*password)
		if err != nil {
			return err
		}
		sealed = enc
	}

	var last any
	if c.LastConnectedAt != nil {
		last = toMillis(*c.LastConnectedAt)
	}
	c.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET name = ?, host = ?, port = ?, database_name = ?, username = ?, ssl = ?, last_connected_at = ?,
		    encrypted_password = COALESCE(?, encrypted_password), updated_at = ?
		WHERE id = ? AND user_id = ?`,
		c.Name, c.Host, c.Port, c.Database, c.Username, c.TLS, last, sealed, toMillis(c.UpdatedAt),
		c.ID, c.UserID,
	)
	if err != nil {
		return mapError(err, "update connection")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.ErrKindNotFound, "connection not found")
	}
	return nil
}

// DeleteConnection removes the connection if userID owns it.
func (s *Store) DeleteConnection(ctx context.Context, userID, connectionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ? AND user_id = ?`, connectionID, userID)
	if err != nil {
		return mapError(err, "delete connection")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.ErrKindNotFound, "connection not found")
	}
	return nil
}

// TouchConnection records a successful connection time.
func (s *Store) TouchConnection(ctx context.Context, userID, connectionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET last_connected_at = ? WHERE id = ? AND user_id = ?`,
		toMillis(at), connectionID, userID,
	)
	return mapError(err, "touch connection")
}

// GetCredentials decrypts the stored secret of a connection userID owns.
// A connection owned by someone else is indistinguishable from a missing one.
func (s *Store) GetCredentials(ctx context.Context, userID, connectionID string) (database.Credentials, error) {
	var (
		c      store.Connection
		sealed string
		dbType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT db_type, host, port, database_name, username, ssl, encrypted_password
		FROM connections WHERE id = ? AND user_id = ?`,
		connectionID, userID,
	).Scan(&dbType, &c.Host, &c.Port, &c.Database, &c.Username, &c.TLS, &sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Credentials{}, errs.New(errs.ErrKindNotFound, "connection not found")
		}
		return database.Credentials{}, mapError(err, "get credentials")
	}

	d, err := database.ParseDialect(dbType)
	if err != nil {
		return database.Credentials{}, err
	}
	c.Dialect = d

	password, err := s.sealer.Decrypt(sealed)
	if err != nil {
		s.log.Ctx(ctx).WarnWith("stored secret could not be decrypted", err, map[string]interface{}{
			"connection_id": connectionID,
		})
		return database.Credentials{}, err
	}
	return c.Credentials(password), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(sc scanner) (*store.Connection, error) {
	var (
		c                store.Connection
		dbType           string
		last             sql.NullInt64
		created, updated int64
	)
	if err := sc.Scan(&c.ID, &c.UserID, &c.Name, &dbType, &c.Host, &c.Port, &c.Database, &c.Username, &c.TLS, &last, &created, &updated); err != nil {
		return nil, err
	}
	c.Dialect = database.Dialect(dbType)
	if last.Valid {
		t := fromMillis(last.Int64)
		c.LastConnectedAt = &t
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}
