// Package databasetest provides a scripted in-memory database.Driver for
// tests of packages that sit above the gateway.
package databasetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/programmerrush/InsightDB-api/internal/database"
)

// Step answers every query whose SQL contains Match. Steps are tried in
// order, so put narrower matches first.
type Step struct {
	Match    string
	Cols     []string
	Rows     [][]any
	Affected int64
	Err      error
}

// Driver is a database.Driver whose sessions answer from a script and
// which counts opened and closed sessions.
type Driver struct {
	D       database.Dialect
	OpenErr error
	Script  []Step

	mu      sync.Mutex
	opens   int
	closes  int
	queries []string
}

// New returns a PostgreSQL-flavoured driver answering from steps.
func New(steps ...Step) *Driver {
	return &Driver{D: database.DialectPostgres, Script: steps}
}

func (d *Driver) Dialect() database.Dialect { return d.D }

func (d *Driver) Open(_ context.Context, _ database.Credentials, _ database.Options) (database.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	return &session{drv: d}, nil
}

func (d *Driver) Catalog() database.Catalog { return Catalog{} }

func (d *Driver) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Opens reports how many sessions were opened.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes reports how many sessions were closed.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Queries returns every SQL text received, in order.
func (d *Driver) Queries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

// Ran reports whether any received SQL contains substr.
func (d *Driver) Ran(substr string) bool {
	for _, q := range d.Queries() {
		if strings.Contains(q, substr) {
			return true
		}
	}
	return false
}

type session struct {
	drv *Driver
}

func (s *session) Query(_ context.Context, sql string, _ ...any) (database.Rows, error) {
	s.drv.mu.Lock()
	s.drv.queries = append(s.drv.queries, sql)
	s.drv.mu.Unlock()

	for _, step := range s.drv.Script {
		if strings.Contains(sql, step.Match) {
			if step.Err != nil {
				return nil, step.Err
			}
			return &rows{cols: step.Cols, data: step.Rows, affected: step.Affected, idx: -1}, nil
		}
	}
	return nil, fmt.Errorf("unscripted query: %s", sql)
}

func (s *session) Close(context.Context) error {
	s.drv.mu.Lock()
	defer s.drv.mu.Unlock()
	s.drv.closes++
	return nil
}

type rows struct {
	cols     []string
	data     [][]any
	affected int64
	idx      int
}

func (r *rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *rows) Scan(dest ...any) error {
	for i, v := range r.data[r.idx] {
		*(dest[i].(*any)) = v
	}
	return nil
}

func (r *rows) Columns() ([]database.ColumnMeta, error) {
	out := make([]database.ColumnMeta, len(r.cols))
	for i, c := range r.cols {
		out[i] = database.ColumnMeta{Name: c, Type: "text"}
	}
	return out, nil
}

func (r *rows) RowsAffected() int64 { return r.affected }
func (r *rows) Close()              {}
func (r *rows) Err() error          { return nil }

// Catalog emits marker SQL ("CATALOG TABLES", "CATALOG COLUMNS", ...) so
// scripts can match catalog calls without caring about real SQL text.
type Catalog struct{}

func (Catalog) ResolveSchema(_ database.Credentials, requested string) string {
	if requested == "" {
		return "public"
	}
	return requested
}
func (Catalog) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Catalog) Version() string          { return "SELECT version()" }
func (Catalog) Tables(schema string) (string, []any) {
	return "CATALOG TABLES", []any{schema}
}
func (Catalog) Columns(schema, table string) (string, []any) {
	return "CATALOG COLUMNS " + table, []any{schema, table}
}
func (Catalog) Views(schema string) (string, []any) {
	return "CATALOG VIEWS", []any{schema}
}
func (Catalog) Functions(schema string) (string, []any) {
	return "CATALOG FUNCTIONS", []any{schema}
}
func (Catalog) Schemas() string      { return "CATALOG SCHEMAS" }
func (Catalog) DatabaseSize() string { return "CATALOG SIZE" }
func (Catalog) TruncDate(expr string, p database.Period) string {
	return fmt.Sprintf("TRUNC(%s, %s)", p, expr)
}

// TablesStep answers the table listing with the given names, each with
// estimated rows taken from rowsByName (0 when absent).
func TablesStep(rowsByName map[string]int64, names ...string) Step {
	data := make([][]any, 0, len(names))
	for _, n := range names {
		data = append(data, []any{n, "BASE TABLE", "public", "8 kB", rowsByName[n]})
	}
	return Step{
		Match:    "CATALOG TABLES",
		Cols:     []string{"table_name", "table_type", "table_schema", "size", "estimated_rows"},
		Rows:     data,
		Affected: -1,
	}
}

// ColumnsStep answers the column listing of table. Each column is given as
// {name, data type, key role}.
func ColumnsStep(table string, cols ...[3]string) Step {
	data := make([][]any, 0, len(cols))
	for i, c := range cols {
		data = append(data, []any{c[0], c[1], "YES", int64(i + 1), c[2]})
	}
	return Step{
		Match:    "CATALOG COLUMNS " + table,
		Cols:     []string{"column_name", "data_type", "is_nullable", "ordinal_position", "key_type"},
		Rows:     data,
		Affected: -1,
	}
}
