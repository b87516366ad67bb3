package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/logger"
)

const (
	// DefaultPreviewLimit is used when a preview asks for no limit.
	DefaultPreviewLimit = 100

	// MaxPreviewLimit caps preview page size.
	MaxPreviewLimit = 500

	closeTimeout = 5 * time.Second
)

// Gateway is the dialect-neutral entry point to target databases. Each call
// opens exactly one session, uses it, and closes it before returning. A
// Gateway holds no connection state and is safe for concurrent use.
type Gateway struct {
	drivers map[Dialect]Driver
	opts    Options
	log     *logger.Logger
}

// NewGateway registers one driver per dialect.
func NewGateway(opts Options, log *logger.Logger, drivers ...Driver) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	g := &Gateway{
		drivers: make(map[Dialect]Driver, len(drivers)),
		opts:    opts,
		log:     log,
	}
	for _, d := range drivers {
		g.drivers[d.Dialect()] = d
	}
	return g
}

// Supports reports whether a driver is registered for d.
func (g *Gateway) Supports(d Dialect) bool {
	_, ok := g.drivers[d]
	return ok
}

func (g *Gateway) driverFor(d Dialect) (Driver, error) {
	drv, ok := g.drivers[d]
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnsupported, "unsupported database type: %q", string(d))
	}
	return drv, nil
}

// withSession runs fn against a freshly opened session and always closes it,
// whatever fn returns.
func (g *Gateway) withSession(ctx context.Context, creds Credentials, op string, fn func(ctx context.Context, drv Driver, sess Session) error) error {
	drv, err := g.driverFor(creds.Dialect)
	if err != nil {
		return err
	}

	if g.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.QueryTimeout)
		defer cancel()
	}

	sess, err := drv.Open(ctx, creds, g.opts)
	if err != nil {
		return classify(err, errs.ErrKindConnectionFailed, "failed to connect")
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			g.log.Ctx(ctx).WarnWith("failed to close session", cerr, map[string]interface{}{
				"op":     op,
				"target": creds.String(),
			})
		}
	}()

	return fn(ctx, drv, sess)
}

// classify makes sure every error leaving the gateway carries a kind.
func classify(err error, kind errs.ErrKind, msg string) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.ErrKindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	// Execution failures carry the engine text in Message, as the drivers do.
	if kind == errs.ErrKindExecutionFailed {
		msg = msg + ": " + err.Error()
	}
	return errs.Wrap(kind, msg, err)
}

func run(ctx context.Context, sess Session, sql string, args ...any) (*QueryResult, error) {
	start := time.Now()

	rows, err := sess.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, errs.ErrKindExecutionFailed, "query failed")
	}

	data, cols, affected, err := ScanRows(rows)
	if err != nil {
		return nil, classify(err, errs.ErrKindExecutionFailed, "query failed")
	}

	elapsed := time.Since(start)
	count := affected
	if count < 0 {
		count = int64(len(data))
	}

	return &QueryResult{
		Rows:       data,
		RowCount:   count,
		Columns:    cols,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

// TestConnection opens a session and reads the engine version. Failure is
// reported in the result, never as an error.
func (g *Gateway) TestConnection(ctx context.Context, creds Credentials) TestResult {
	var version string
	err := g.withSession(ctx, creds, "test_connection", func(ctx context.Context, drv Driver, sess Session) error {
		res, err := run(ctx, sess, drv.Catalog().Version())
		if err != nil {
			return err
		}
		version = firstString(res.Rows, "version")
		return nil
	})
	if err != nil {
		return TestResult{OK: false, Error: logger.Mask(err.Error())}
	}
	return TestResult{OK: true, Version: version}
}

// Execute runs arbitrary SQL with positional args and returns the
// materialized result.
func (g *Gateway) Execute(ctx context.Context, creds Credentials, sql string, args ...any) (*QueryResult, error) {
	var out *QueryResult
	err := g.withSession(ctx, creds, "execute", func(ctx context.Context, _ Driver, sess Session) error {
		res, err := run(ctx, sess, sql, args...)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func listTables(ctx context.Context, drv Driver, sess Session, schema string) ([]Table, error) {
	q, args := drv.Catalog().Tables(schema)
	res, err := run(ctx, sess, q, args...)
	if err != nil {
		return nil, err
	}
	return tablesFrom(res.Rows), nil
}

func listColumns(ctx context.Context, drv Driver, sess Session, schema, table string) ([]Column, error) {
	q, args := drv.Catalog().Columns(schema, table)
	res, err := run(ctx, sess, q, args...)
	if err != nil {
		return nil, err
	}
	return columnsFrom(res.Rows), nil
}

// ListTables returns the tables and views of schema. An empty schema means
// the dialect default.
func (g *Gateway) ListTables(ctx context.Context, creds Credentials, schema string) ([]Table, error) {
	var out []Table
	err := g.withSession(ctx, creds, "list_tables", func(ctx context.Context, drv Driver, sess Session) error {
		var err error
		out, err = listTables(ctx, drv, sess, drv.Catalog().ResolveSchema(creds, schema))
		return err
	})
	return out, err
}

// ListColumns returns the columns of schema.table with normalized key roles.
func (g *Gateway) ListColumns(ctx context.Context, creds Credentials, schema, table string) ([]Column, error) {
	var out []Column
	err := g.withSession(ctx, creds, "list_columns", func(ctx context.Context, drv Driver, sess Session) error {
		var err error
		out, err = listColumns(ctx, drv, sess, drv.Catalog().ResolveSchema(creds, schema), table)
		return err
	})
	return out, err
}

// ListViews returns the views of schema with their definitions.
func (g *Gateway) ListViews(ctx context.Context, creds Credentials, schema string) ([]View, error) {
	var out []View
	err := g.withSession(ctx, creds, "list_views", func(ctx context.Context, drv Driver, sess Session) error {
		q, args := drv.Catalog().Views(drv.Catalog().ResolveSchema(creds, schema))
		res, err := run(ctx, sess, q, args...)
		if err != nil {
			return err
		}
		out = viewsFrom(res.Rows)
		return nil
	})
	return out, err
}

// ListFunctions returns the stored functions and procedures of schema.
func (g *Gateway) ListFunctions(ctx context.Context, creds Credentials, schema string) ([]Function, error) {
	var out []Function
	err := g.withSession(ctx, creds, "list_functions", func(ctx context.Context, drv Driver, sess Session) error {
		q, args := drv.Catalog().Functions(drv.Catalog().ResolveSchema(creds, schema))
		res, err := run(ctx, sess, q, args...)
		if err != nil {
			return err
		}
		out = functionsFrom(res.Rows)
		return nil
	})
	return out, err
}

// ListSchemas returns the user schemas (databases, for MySQL).
func (g *Gateway) ListSchemas(ctx context.Context, creds Credentials) ([]string, error) {
	var out []string
	err := g.withSession(ctx, creds, "list_schemas", func(ctx context.Context, drv Driver, sess Session) error {
		res, err := run(ctx, sess, drv.Catalog().Schemas())
		if err != nil {
			return err
		}
		out = stringsFrom(res.Rows, "schema_name")
		return nil
	})
	return out, err
}

// DatabaseSize returns the human-readable size of the connected database.
func (g *Gateway) DatabaseSize(ctx context.Context, creds Credentials) (string, error) {
	var out string
	err := g.withSession(ctx, creds, "database_size", func(ctx context.Context, drv Driver, sess Session) error {
		res, err := run(ctx, sess, drv.Catalog().DatabaseSize())
		if err != nil {
			return err
		}
		out = firstString(res.Rows, "size")
		return nil
	})
	return out, err
}

// PreviewTable returns one page of rows from a catalog-verified table.
// limit is clamped to [1, MaxPreviewLimit]; a negative offset is treated as 0.
func (g *Gateway) PreviewTable(ctx context.Context, creds Credentials, schema, table string, limit, offset int) (*QueryResult, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	if limit > MaxPreviewLimit {
		limit = MaxPreviewLimit
	}
	if offset < 0 {
		offset = 0
	}

	var out *QueryResult
	err := g.withSession(ctx, creds, "preview_table", func(ctx context.Context, drv Driver, sess Session) error {
		schema := drv.Catalog().ResolveSchema(creds, schema)

		tables, err := listTables(ctx, drv, sess, schema)
		if err != nil {
			return err
		}
		if err := ValidateIdentifier(table, tableNames(tables)); err != nil {
			return err
		}

		q, args := Select(drv, schema, table).Limit(limit).Offset(offset).Build()
		out, err = run(ctx, sess, q, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TableStats computes row count and per-column completeness and uniqueness
// for a catalog-verified table. A column whose statistics query fails gets
// zeroed figures rather than failing the whole call.
func (g *Gateway) TableStats(ctx context.Context, creds Credentials, schema, table string) (*TableStats, error) {
	var out *TableStats
	err := g.withSession(ctx, creds, "table_stats", func(ctx context.Context, drv Driver, sess Session) error {
		schema := drv.Catalog().ResolveSchema(creds, schema)

		tables, err := listTables(ctx, drv, sess, schema)
		if err != nil {
			return err
		}
		if err := ValidateIdentifier(table, tableNames(tables)); err != nil {
			return err
		}

		cols, err := listColumns(ctx, drv, sess, schema, table)
		if err != nil {
			return err
		}
		out, err = g.tableStats(ctx, drv, sess, schema, table, cols)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gateway) tableStats(ctx context.Context, drv Driver, sess Session, schema, table string, cols []Column) (*TableStats, error) {
	qualified := QualifiedName(drv, schema, table)
	countRes, err := run(ctx, sess, fmt.Sprintf("SELECT COUNT(*) AS total FROM %s", qualified))
	if err != nil {
		return nil, err
	}
	total, _ := toInt64(lowerKeys(firstRow(countRes.Rows))["total"])

	stats := &TableStats{
		Table:       table,
		TotalRows:   total,
		ColumnCount: len(cols),
		Columns:     make([]ColumnStats, 0, len(cols)),
	}

	var completenessSum float64
	for _, col := range cols {
		cs := ColumnStats{Name: col.Name, DataType: col.DataType, KeyRole: col.KeyRole}

		ident := drv.QuoteIdent(col.Name)
		q := fmt.Sprintf(
			"SELECT COUNT(*) - COUNT(%s) AS null_count, COUNT(DISTINCT %s) AS distinct_count FROM %s",
			ident, ident, qualified,
		)
		res, err := run(ctx, sess, q)
		if err != nil {
			g.log.Ctx(ctx).WarnWith("column statistics failed", err, map[string]interface{}{
				"table":  table,
				"column": col.Name,
			})
		} else {
			row := lowerKeys(firstRow(res.Rows))
			cs.NullCount, _ = toInt64(row["null_count"])
			cs.DistinctCount, _ = toInt64(row["distinct_count"])
			if total > 0 {
				cs.NullPct = round2(float64(cs.NullCount) / float64(total) * 100)
				cs.UniquenessPct = round2(float64(cs.DistinctCount) / float64(total) * 100)
			}
		}

		stats.TotalNulls += cs.NullCount
		completenessSum += 100 - cs.NullPct
		stats.Columns = append(stats.Columns, cs)
	}

	if len(cols) > 0 {
		stats.Completeness = round2(completenessSum / float64(len(cols)))
	} else {
		stats.Completeness = 100
	}
	return stats, nil
}

// Overview summarises the connected database: table count, estimated total
// rows, size, and the largest tables first.
type Overview struct {
	TotalTables  int     `json:"totalTables"`
	TotalRows    int64   `json:"totalRows"`
	DatabaseSize string  `json:"databaseSize"`
	Tables       []Table `json:"tables"`
}

// Overview gathers the tables and database size of the default schema in a
// single session.
func (g *Gateway) Overview(ctx context.Context, creds Credentials, schema string) (*Overview, error) {
	var out *Overview
	err := g.withSession(ctx, creds, "overview", func(ctx context.Context, drv Driver, sess Session) error {
		tables, err := listTables(ctx, drv, sess, drv.Catalog().ResolveSchema(creds, schema))
		if err != nil {
			return err
		}

		res, err := run(ctx, sess, drv.Catalog().DatabaseSize())
		if err != nil {
			return err
		}

		sort.SliceStable(tables, func(i, j int) bool { return tables[i].EstimatedRows > tables[j].EstimatedRows })

		ov := &Overview{
			TotalTables:  len(tables),
			DatabaseSize: firstString(res.Rows, "size"),
			Tables:       tables,
		}
		for _, t := range tables {
			ov.TotalRows += t.EstimatedRows
		}
		out = ov
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func firstRow(rows []map[string]any) map[string]any {
	if len(rows) == 0 {
		return map[string]any{}
	}
	return rows[0]
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
