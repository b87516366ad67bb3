package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

const (
	maxNumericSummaries = 5
	maxProfiledTables   = 10
	maxSampledColumns   = 10
	sampleRows          = 1000
	growthPeriods       = 6
	trendPeriods        = 24
	maxColumnTypes      = 8
)

// Period is the bucket width of a time series.
type Period string

const (
	PeriodDay     Period = "day"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// ParsePeriod accepts day, week, month, quarter or year in any case. An
// empty string means month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unsupported period %q: use day, week, month, quarter or year", s)
}

// NumericSummary is the range and mean of one numeric column. Figures are
// nil when the column holds no values.
type NumericSummary struct {
	Column string   `json:"column"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Avg    *float64 `json:"avg"`
}

// TableInsights extends TableStats with summaries of the first numeric
// columns.
type TableInsights struct {
	TableStats
	Numeric []NumericSummary `json:"numericInsights"`
}

// TrendPoint is one period of a time series. Total is set only when a
// value column was summed.
type TrendPoint struct {
	Period string   `json:"period"`
	Count  int64    `json:"count"`
	Total  *float64 `json:"total,omitempty"`
}

// TrendRequest selects the series Trends computes.
type TrendRequest struct {
	DateColumn  string
	ValueColumn string
	Period      Period
}

// Trend is a time series of row counts, oldest period first.
type Trend struct {
	Table       string       `json:"table"`
	DateColumn  string       `json:"dateColumn"`
	ValueColumn string       `json:"valueColumn,omitempty"`
	GroupBy     Period       `json:"groupBy"`
	Points      []TrendPoint `json:"data"`
}

// TypeCount is how many profiled columns share a data type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TableProfile is the per-table part of AutoInsights.
type TableProfile struct {
	Name          string       `json:"name"`
	Rows          int64        `json:"rows"`
	Size          string       `json:"size"`
	ColumnCount   int          `json:"columnCount"`
	NullableCount int          `json:"nullableCount"`
	PrimaryKeys   int          `json:"primaryKeyCount"`
	ForeignKeys   int          `json:"foreignKeyCount"`
	Completeness  float64      `json:"completeness"`
	DateColumns   []string     `json:"dateColumns"`
	GrowthTrend   []TrendPoint `json:"growthTrend"`
}

// AutoInsights profiles the largest tables of a schema.
type AutoInsights struct {
	Tables              []TableProfile `json:"tables"`
	ColumnTypes         []TypeCount    `json:"columnTypes"`
	TotalColumns        int            `json:"totalColumns"`
	TotalNullable       int            `json:"totalNullable"`
	OverallCompleteness float64        `json:"overallCompleteness"`
}

// TableInsights returns TableStats for a catalog-verified table plus the
// minimum, maximum and mean of up to five numeric columns. A numeric
// summary that fails is left out.
func (g *Gateway) TableInsights(ctx context.Context, creds Credentials, schema, table string) (*TableInsights, error) {
	var out *TableInsights
	err := g.withSession(ctx, creds, "table_insights", func(ctx context.Context, drv Driver, sess Session) error {
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
		stats, err := g.tableStats(ctx, drv, sess, schema, table, cols)
		if err != nil {
			return err
		}

		out = &TableInsights{TableStats: *stats, Numeric: []NumericSummary{}}
		qualified := QualifiedName(drv, schema, table)
		for _, col := range cols {
			if len(out.Numeric) == maxNumericSummaries {
				break
			}
			if !isNumericType(col.DataType) {
				continue
			}

			ident := drv.QuoteIdent(col.Name)
			q := fmt.Sprintf("SELECT MIN(%s) AS min_value, MAX(%s) AS max_value, AVG(%s) AS avg_value FROM %s",
				ident, ident, ident, qualified)
			res, err := run(ctx, sess, q)
			if err != nil {
				g.log.Ctx(ctx).WarnWith("numeric summary failed", err, map[string]interface{}{
					"table":  table,
					"column": col.Name,
				})
				continue
			}

			row := lowerKeys(firstRow(res.Rows))
			out.Numeric = append(out.Numeric, NumericSummary{
				Column: col.Name,
				Min:    optFloat(row["min_value"]),
				Max:    optFloat(row["max_value"]),
				Avg:    optFloat(row["avg_value"]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AutoInsights profiles up to ten tables of schema, largest first: column
// type mix, key and nullable counts, completeness over a sample of rows,
// and a monthly growth trend on the first date column. Tables whose
// columns cannot be read are skipped.
func (g *Gateway) AutoInsights(ctx context.Context, creds Credentials, schema string) (*AutoInsights, error) {
	var out *AutoInsights
	err := g.withSession(ctx, creds, "auto_insights", func(ctx context.Context, drv Driver, sess Session) error {
		schema := drv.Catalog().ResolveSchema(creds, schema)

		tables, err := listTables(ctx, drv, sess, schema)
		if err != nil {
			return err
		}
		sort.SliceStable(tables, func(i, j int) bool { return tables[i].EstimatedRows > tables[j].EstimatedRows })
		if len(tables) > maxProfiledTables {
			tables = tables[:maxProfiledTables]
		}

		ai := &AutoInsights{Tables: make([]TableProfile, 0, len(tables))}
		types := map[string]int{}
		var completenessSum float64

		for _, t := range tables {
			cols, err := listColumns(ctx, drv, sess, schema, t.Name)
			if err != nil {
				g.log.Ctx(ctx).WarnWith("table profile skipped", err, map[string]interface{}{"table": t.Name})
				continue
			}

			p := TableProfile{
				Name:         t.Name,
				Rows:         t.EstimatedRows,
				Size:         t.Size,
				ColumnCount:  len(cols),
				Completeness: 100,
				DateColumns:  []string{},
				GrowthTrend:  []TrendPoint{},
			}
			for _, c := range cols {
				types[strings.ToLower(c.DataType)]++
				if c.Nullable {
					p.NullableCount++
				}
				switch c.KeyRole {
				case KeyPrimary:
					p.PrimaryKeys++
				case KeyForeign:
					p.ForeignKeys++
				}
				if isDateType(c.DataType) {
					p.DateColumns = append(p.DateColumns, c.Name)
				}
			}

			qualified := QualifiedName(drv, schema, t.Name)
			if len(cols) > 0 {
				pct, err := sampleCompleteness(ctx, drv, sess, qualified, cols)
				if err != nil {
					g.log.Ctx(ctx).WarnWith("completeness sample failed", err, map[string]interface{}{"table": t.Name})
				} else {
					p.Completeness = pct
				}
			}
			if len(p.DateColumns) > 0 {
				points, err := trendPoints(ctx, drv, sess, qualified, p.DateColumns[0], "", PeriodMonth, growthPeriods)
				if err != nil {
					g.log.Ctx(ctx).WarnWith("growth trend failed", err, map[string]interface{}{
						"table":  t.Name,
						"column": p.DateColumns[0],
					})
				} else {
					p.GrowthTrend = points
				}
			}

			ai.TotalColumns += p.ColumnCount
			ai.TotalNullable += p.NullableCount
			completenessSum += p.Completeness
			ai.Tables = append(ai.Tables, p)
		}

		ai.ColumnTypes = topTypes(types, maxColumnTypes)
		if len(ai.Tables) > 0 {
			ai.OverallCompleteness = round2(completenessSum / float64(len(ai.Tables)))
		} else {
			ai.OverallCompleteness = 100
		}
		out = ai
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Trends counts rows of a catalog-verified table per period of
// req.DateColumn, optionally summing req.ValueColumn, over the most recent
// 24 periods. Rows with a NULL date are ignored.
func (g *Gateway) Trends(ctx context.Context, creds Credentials, schema, table string, req TrendRequest) (*Trend, error) {
	if req.DateColumn == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "a date column is required")
	}
	period, err := ParsePeriod(string(req.Period))
	if err != nil {
		return nil, err
	}

	var out *Trend
	err = g.withSession(ctx, creds, "trends", func(ctx context.Context, drv Driver, sess Session) error {
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
		names := columnNames(cols)
		if err := ValidateIdentifier(req.DateColumn, names); err != nil {
			return err
		}
		if req.ValueColumn != "" {
			if err := ValidateIdentifier(req.ValueColumn, names); err != nil {
				return err
			}
		}

		points, err := trendPoints(ctx, drv, sess, QualifiedName(drv, schema, table), req.DateColumn, req.ValueColumn, period, trendPeriods)
		if err != nil {
			return err
		}
		out = &Trend{
			Table:       table,
			DateColumn:  req.DateColumn,
			ValueColumn: req.ValueColumn,
			GroupBy:     period,
			Points:      points,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// trendPoints buckets qualified by dateCol and returns the latest limit
// periods in chronological order.
func trendPoints(ctx context.Context, drv Driver, sess Session, qualified, dateCol, valueCol string, p Period, limit int) ([]TrendPoint, error) {
	date := drv.QuoteIdent(dateCol)
	sel := drv.Catalog().TruncDate(date, p) + " AS period_start, COUNT(*) AS record_count"
	if valueCol != "" {
		sel += fmt.Sprintf(", SUM(%s) AS value_total", drv.QuoteIdent(valueCol))
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY 1 ORDER BY 1 DESC LIMIT %d",
		sel, qualified, date, limit)

	res, err := run(ctx, sess, q)
	if err != nil {
		return nil, err
	}

	points := make([]TrendPoint, len(res.Rows))
	for i, r := range res.Rows {
		row := lowerKeys(r)
		pt := TrendPoint{Period: str(row, "period_start")}
		pt.Count, _ = toInt64(row["record_count"])
		if valueCol != "" {
			pt.Total = optFloat(row["value_total"])
		}
		points[len(points)-1-i] = pt
	}
	return points, nil
}

// sampleCompleteness is the share of non-NULL cells among the first ten
// columns of up to 1000 rows.
func sampleCompleteness(ctx context.Context, drv Driver, sess Session, qualified string, cols []Column) (float64, error) {
	if len(cols) > maxSampledColumns {
		cols = cols[:maxSampledColumns]
	}

	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, "COUNT(*) AS sampled")
	for i, c := range cols {
		parts = append(parts, fmt.Sprintf("SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) AS null_%d", drv.QuoteIdent(c.Name), i))
	}
	q := fmt.Sprintf("SELECT %s FROM (SELECT * FROM %s LIMIT %d) AS sample_data",
		strings.Join(parts, ", "), qualified, sampleRows)

	res, err := run(ctx, sess, q)
	if err != nil {
		return 0, err
	}
	row := lowerKeys(firstRow(res.Rows))
	sampled, _ := toInt64(row["sampled"])
	if sampled == 0 {
		return 100, nil
	}

	var nulls int64
	for i := range cols {
		n, _ := toInt64(row[fmt.Sprintf("null_%d", i)])
		nulls += n
	}
	cells := float64(sampled) * float64(len(cols))
	return round2((cells - float64(nulls)) / cells * 100), nil
}

func topTypes(counts map[string]int, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TypeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

var numericTypes = map[string]bool{
	"smallint":         true,
	"integer":          true,
	"int":              true,
	"bigint":           true,
	"tinyint":          true,
	"mediumint":        true,
	"numeric":          true,
	"decimal":          true,
	"real":             true,
	"float":            true,
	"double":           true,
	"double precision": true,
}

func isNumericType(t string) bool {
	return numericTypes[strings.ToLower(t)]
}

func isDateType(t string) bool {
	t = strings.ToLower(t)
	return t == "date" || t == "datetime" || strings.HasPrefix(t, "timestamp")
}
