package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// Driver is the PostgreSQL implementation of database.Driver. It opens one
// pgx connection per session; there is no pool.
type Driver struct{}

// New returns a PostgreSQL driver.
func New() *Driver {
	return &Driver{}
}

func (*Driver) Dialect() database.Dialect { return database.DialectPostgres }

func (*Driver) Catalog() database.Catalog { return catalog{} }

// QuoteIdent wraps name in double quotes, doubling embedded quotes.
func (*Driver) QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Open connects to the target database. TLS is required when creds.TLS is
// set; server certificates are not verified.
func (*Driver) Open(ctx context.Context, creds database.Credentials, opts database.Options) (database.Session, error) {
	cfg, err := pgx.ParseConfig(DSN(creds, opts))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid connection settings", err)
	}

	// Sessions are single-use, so a prepared-statement cache would never be hit.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	if opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, mapError(err, "failed to connect", true)
	}
	return &session{conn: conn}, nil
}

// DSN builds a postgres:// URL from creds. Every component is escaped, so
// passwords with reserved characters survive.
func DSN(creds database.Credentials, opts database.Options) string {
	q := url.Values{}
	if creds.TLS {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	if opts.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(opts.ConnectTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     fmt.Sprintf("%s:%d", creds.Host, creds.EffectivePort()),
		Path:     "/" + creds.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

type session struct {
	conn *pgx.Conn
}

func (s *session) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed", false)
	}
	return &pgxRows{rows: rows, conn: s.conn}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
	conn *pgx.Conn
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }

func (r *pgxRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "query failed", false)
	}
	return nil
}

// RowsAffected reads the command tag, which pgx fills in once the rows are
// exhausted.
func (r *pgxRows) RowsAffected() int64 {
	return r.rows.CommandTag().RowsAffected()
}

func (r *pgxRows) Columns() ([]database.ColumnMeta, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]database.ColumnMeta, len(descs))
	for i, d := range descs {
		cols[i] = database.ColumnMeta{Name: d.Name, Type: typeName(r.conn, d)}
	}
	return cols, nil
}

func typeName(conn *pgx.Conn, d pgconn.FieldDescription) string {
	if t, ok := conn.TypeMap().TypeForOID(d.DataTypeOID); ok {
		return t.Name
	}
	return strconv.FormatUint(uint64(d.DataTypeOID), 10)
}
