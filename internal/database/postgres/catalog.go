package postgres

import (
	"fmt"

	"github.com/programmerrush/InsightDB-api/internal/database"
)

// DefaultSchema is introspected when the caller names none.
const DefaultSchema = "public"

type catalog struct{}

func (catalog) ResolveSchema(_ database.Credentials, requested string) string {
	if requested == "" {
		return DefaultSchema
	}
	return requested
}

func (catalog) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (catalog) Version() string { return `SELECT version() AS version` }

func (catalog) Tables(schema string) (string, []any) {
	const q = `
		SELECT t.table_name,
		       t.table_type,
		       t.table_schema,
		       pg_size_pretty(pg_total_relation_size(quote_ident(t.table_schema) || '.' || quote_ident(t.table_name))) AS size,
		       GREATEST(COALESCE(c.reltuples, 0), 0)::bigint AS estimated_rows
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c     ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_schema = $1
		ORDER BY t.table_name`
	return q, []any{schema}
}

// Columns emits one row per (column, constraint); the gateway folds them.
func (catalog) Columns(schema, table string) (string, []any) {
	const q = `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable,
		       c.column_default,
		       c.character_maximum_length,
		       c.ordinal_position,
		       CASE tc.constraint_type
		         WHEN 'PRIMARY KEY' THEN 'PK'
		         WHEN 'FOREIGN KEY' THEN 'FK'
		         WHEN 'UNIQUE'      THEN 'UQ'
		       END AS key_type
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
		  ON c.column_name  = kcu.column_name
		 AND c.table_name   = kcu.table_name
		 AND c.table_schema = kcu.table_schema
		LEFT JOIN information_schema.table_constraints tc
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema    = tc.table_schema
		WHERE c.table_schema = $1
		  AND c.table_name   = $2
		ORDER BY c.ordinal_position`
	return q, []any{schema, table}
}

func (catalog) Views(schema string) (string, []any) {
	const q = `
		SELECT table_name, view_definition
		FROM information_schema.views
		WHERE table_schema = $1
		ORDER BY table_name`
	return q, []any{schema}
}

// Functions skips the definition of aggregates and window functions, for
// which pg_get_functiondef raises an error.
func (catalog) Functions(schema string) (string, []any) {
	const q = `
		SELECT p.proname AS routine_name,
		       CASE p.prokind
		         WHEN 'f' THEN 'function'
		         WHEN 'p' THEN 'procedure'
		         WHEN 'a' THEN 'aggregate'
		         WHEN 'w' THEN 'window'
		       END AS routine_type,
		       l.lanname AS language,
		       CASE WHEN p.prokind IN ('f', 'p') THEN pg_get_functiondef(p.oid) END AS definition
		FROM pg_proc p
		JOIN pg_namespace n ON p.pronamespace = n.oid
		JOIN pg_language l  ON p.prolang = l.oid
		WHERE n.nspname = $1
		ORDER BY p.proname`
	return q, []any{schema}
}

func (catalog) Schemas() string {
	return `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		  AND schema_name NOT LIKE 'pg\_toast%'
		  AND schema_name NOT LIKE 'pg\_temp%'
		ORDER BY schema_name`
}

func (catalog) DatabaseSize() string {
	return `SELECT pg_size_pretty(pg_database_size(current_database())) AS size`
}

func (catalog) TruncDate(expr string, p database.Period) string {
	return fmt.Sprintf("to_char(date_trunc('%s', %s), 'YYYY-MM-DD')", p, expr)
}
