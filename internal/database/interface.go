package database

import "context"

// Driver is implemented once per dialect. Layers above this package talk only
// to Gateway; they never import the postgres or mysql packages directly.
type Driver interface {
	// Dialect reports which engine this driver speaks to.
	Dialect() Dialect

	// Open establishes one ephemeral session. The caller owns the session and
	// must Close it.
	Open(ctx context.Context, creds Credentials, opts Options) (Session, error)

	// Catalog returns the dialect's introspection SQL.
	Catalog() Catalog

	// QuoteIdent quotes a single identifier for splicing into SQL text.
	QuoteIdent(name string) string
}

// Session is a single connection, used for one gateway call and then closed.
type Session interface {
	// Query runs sql with positional args in the dialect's placeholder style.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the name and engine type of each result column.
	Columns() ([]ColumnMeta, error)

	// RowsAffected reports the engine's row count for the statement once the
	// rows are exhausted, or -1 when the engine does not report one.
	RowsAffected() int64

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Catalog supplies the dialect-specific catalog SQL. Every query aliases its
// output columns to the same lower-case names so the gateway can reshape rows
// without knowing the dialect.
type Catalog interface {
	// ResolveSchema picks the schema to introspect when the caller asked for
	// requested (possibly empty).
	ResolveSchema(creds Credentials, requested string) string

	// Placeholder returns the n-th (1-based) positional parameter marker.
	Placeholder(n int) string

	Version() string
	Tables(schema string) (string, []any)
	Columns(schema, table string) (string, []any)
	Views(schema string) (string, []any)
	Functions(schema string) (string, []any)
	Schemas() string

	// DatabaseSize returns the size query for the connected database.
	DatabaseSize() string

	// TruncDate renders an expression that truncates the quoted column expr
	// to the start of its period, formatted as YYYY-MM-DD.
	TruncDate(expr string, p Period) string
}
