package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// Driver is the MySQL implementation of database.Driver. Each session is a
// database/sql handle capped at one connection, closed with the session.
type Driver struct{}

// New returns a MySQL driver.
func New() *Driver {
	return &Driver{}
}

func (*Driver) Dialect() database.Dialect { return database.DialectMySQL }

func (*Driver) Catalog() database.Catalog { return catalog{} }

// QuoteIdent wraps name in backticks, doubling embedded backticks.
func (*Driver) QuoteIdent(name string) string {
	return quoteIdent(name)
}

// Config converts creds into a driver config. TLS is negotiated without
// certificate verification when creds.TLS is set.
func Config(creds database.Credentials, opts database.Options) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(creds.Host, strconv.Itoa(creds.EffectivePort()))
	cfg.DBName = creds.Database
	cfg.ParseTime = true
	if opts.ConnectTimeout > 0 {
		cfg.Timeout = opts.ConnectTimeout
	}
	if creds.TLS {
		cfg.TLSConfig = "skip-verify"
	}
	return cfg
}

func (*Driver) Open(ctx context.Context, creds database.Credentials, opts database.Options) (database.Session, error) {
	connector, err := mysql.NewConnector(Config(creds, opts))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid connection settings", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, mapError(err, "failed to connect", true)
	}
	return &session{db: db, conn: conn}, nil
}

type session struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *session) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed", false)
	}
	return &mysqlRows{rows: rows}, nil
}

// Close releases the connection and then the handle. The context is unused
// because database/sql closes synchronously.
func (s *session) Close(context.Context) error {
	connErr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return connErr
}

// --- sql.DB type wrappers ---

type mysqlRows struct {
	rows *sql.Rows
}

func (r *mysqlRows) Next() bool             { return r.rows.Next() }
func (r *mysqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *mysqlRows) Close()                 { _ = r.rows.Close() }

func (r *mysqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "query failed", false)
	}
	return nil
}

// RowsAffected is not exposed through database/sql query results.
func (r *mysqlRows) RowsAffected() int64 { return -1 }

func (r *mysqlRows) Columns() ([]database.ColumnMeta, error) {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, mapError(err, "failed to read column types", false)
	}
	cols := make([]database.ColumnMeta, len(types))
	for i, t := range types {
		cols[i] = database.ColumnMeta{Name: t.Name(), Type: t.DatabaseTypeName()}
	}
	return cols, nil
}
