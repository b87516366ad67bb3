package database

import (
	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// ScanRows reads all rows from the result set and returns them as a slice
// of maps keyed by column name, along with the result column metadata and
// the engine row count (-1 if not reported).
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows; callers do not need to call Close().
func ScanRows(rows Rows) ([]map[string]any, []ColumnMeta, int64, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, 0, errs.Wrap(errs.ErrKindExecutionFailed, "failed to read column names", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, nil, 0, errs.Wrap(errs.ErrKindExecutionFailed, "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col.Name] = normalizeValue(dest[i])
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}

	if columns == nil {
		columns = []ColumnMeta{}
	}
	return result, columns, rows.RowsAffected(), nil
}

// normalizeValue turns driver byte slices into strings so results serialise
// the same way regardless of engine.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
