package mysql

import (
	"fmt"

	"github.com/programmerrush/InsightDB-api/internal/database"
)

type catalog struct{}

// ResolveSchema defaults to the connected database. "public" is treated as
// unset so callers written against PostgreSQL still land somewhere sensible.
func (catalog) ResolveSchema(creds database.Credentials, requested string) string {
	if requested == "" || requested == "public" {
		return creds.Database
	}
	return requested
}

func (catalog) Placeholder(int) string { return "?" }

func (catalog) Version() string { return `SELECT VERSION() AS version` }

func (catalog) Tables(schema string) (string, []any) {
	const q = `
		SELECT TABLE_NAME   AS table_name,
		       TABLE_TYPE   AS table_type,
		       TABLE_SCHEMA AS table_schema,
		       CONCAT(ROUND(COALESCE(DATA_LENGTH, 0) / 1024 / 1024, 2), ' MB') AS size,
		       COALESCE(TABLE_ROWS, 0) AS estimated_rows
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`
	return q, []any{schema}
}

// Columns reports FK through KEY_COLUMN_USAGE because COLUMN_KEY only says
// MUL for any non-unique index.
func (catalog) Columns(schema, table string) (string, []any) {
	const q = `
		SELECT c.COLUMN_NAME              AS column_name,
		       c.DATA_TYPE                AS data_type,
		       c.IS_NULLABLE              AS is_nullable,
		       c.COLUMN_DEFAULT           AS column_default,
		       c.CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
		       c.ORDINAL_POSITION         AS ordinal_position,
		       CASE
		         WHEN c.COLUMN_KEY = 'PRI' THEN 'PK'
		         WHEN EXISTS (
		           SELECT 1 FROM information_schema.KEY_COLUMN_USAGE k
		           WHERE k.TABLE_SCHEMA = c.TABLE_SCHEMA
		             AND k.TABLE_NAME   = c.TABLE_NAME
		             AND k.COLUMN_NAME  = c.COLUMN_NAME
		             AND k.REFERENCED_TABLE_NAME IS NOT NULL
		         ) THEN 'FK'
		         WHEN c.COLUMN_KEY = 'UNI' THEN 'UQ'
		       END AS key_type
		FROM information_schema.COLUMNS c
		WHERE c.TABLE_SCHEMA = ?
		  AND c.TABLE_NAME   = ?
		ORDER BY c.ORDINAL_POSITION`
	return q, []any{schema, table}
}

func (catalog) Views(schema string) (string, []any) {
	const q = `
		SELECT TABLE_NAME AS table_name, VIEW_DEFINITION AS view_definition
		FROM information_schema.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`
	return q, []any{schema}
}

func (catalog) Functions(schema string) (string, []any) {
	const q = `
		SELECT ROUTINE_NAME       AS routine_name,
		       ROUTINE_TYPE       AS routine_type,
		       ROUTINE_BODY       AS language,
		       ROUTINE_DEFINITION AS definition
		FROM information_schema.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_NAME`
	return q, []any{schema}
}

func (catalog) Schemas() string {
	return `
		SELECT SCHEMA_NAME AS schema_name
		FROM information_schema.SCHEMATA
		WHERE SCHEMA_NAME NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
		ORDER BY SCHEMA_NAME`
}

func (catalog) DatabaseSize() string {
	return `
		SELECT CONCAT(ROUND(COALESCE(SUM(DATA_LENGTH + INDEX_LENGTH), 0) / 1024 / 1024, 2), ' MB') AS size
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE()`
}

func (catalog) TruncDate(expr string, p database.Period) string {
	switch p {
	case database.PeriodDay:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", expr)
	case database.PeriodWeek:
		return fmt.Sprintf("DATE_FORMAT(DATE_SUB(%s, INTERVAL WEEKDAY(%s) DAY), '%%Y-%%m-%%d')", expr, expr)
	case database.PeriodQuarter:
		return fmt.Sprintf("CONCAT(YEAR(%s), '-', LPAD(QUARTER(%s) * 3 - 2, 2, '0'), '-01')", expr, expr)
	case database.PeriodYear:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-01-01')", expr)
	default:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-01')", expr)
	}
}
