package database

import (
	"fmt"
	"strings"
)

// SelectBuilder constructs a parameterized SELECT against a catalog-verified
// table. Identifiers are quoted by the driver; LIMIT and OFFSET are always
// bound as arguments.
//
// Usage:
//
//	sql, args := Select(drv, "public", "orders").
//	    Columns("id", "total").
//	    Limit(100).
//	    Offset(0).
//	    Build()
type SelectBuilder struct {
	drv     Driver
	schema  string
	table   string
	columns []string
	limit   *int
	offset  *int
}

// Select starts a new SelectBuilder for schema.table quoted by drv.
func Select(drv Driver, schema, table string) *SelectBuilder {
	return &SelectBuilder{drv: drv, schema: schema, table: table}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip (for pagination).
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
func (b *SelectBuilder) Build() (string, []any) {
	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = b.drv.QuoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(QualifiedName(b.drv, b.schema, b.table))

	var args []any
	argIdx := 1
	ph := b.drv.Catalog().Placeholder

	if b.limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %s", ph(argIdx)))
		args = append(args, *b.limit)
		argIdx++
	}

	if b.offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET %s", ph(argIdx)))
		args = append(args, *b.offset)
	}

	return sb.String(), args
}

// QualifiedName returns schema.table with both parts quoted for drv.
func QualifiedName(drv Driver, schema, table string) string {
	if schema == "" {
		return drv.QuoteIdent(table)
	}
	return drv.QuoteIdent(schema) + "." + drv.QuoteIdent(table)
}
