package database

import "time"

// ColumnMeta describes one column of a result set.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the dialect-neutral, fully materialized outcome of one
// statement. It is not modified after the gateway returns it.
type QueryResult struct {
	Rows       []map[string]any `json:"rows"`
	RowCount   int64            `json:"rowCount"`
	Columns    []ColumnMeta     `json:"columns"`
	Duration   time.Duration    `json:"-"`
	DurationMS int64            `json:"duration"`
}

// TestResult is the outcome of TestConnection. It is never an error.
type TestResult struct {
	OK      bool   `json:"success"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// KeyRole is a column's part in a key constraint.
type KeyRole string

const (
	KeyNone    KeyRole = ""
	KeyPrimary KeyRole = "PK"
	KeyForeign KeyRole = "FK"
	KeyUnique  KeyRole = "UQ"
)

// rank orders roles when a column takes part in several constraints.
func (k KeyRole) rank() int {
	switch k {
	case KeyPrimary:
		return 3
	case KeyForeign:
		return 2
	case KeyUnique:
		return 1
	default:
		return 0
	}
}

// Table summarises one table or view reported by the catalog.
type Table struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Schema        string `json:"schema"`
	Size          string `json:"size"`
	EstimatedRows int64  `json:"estimatedRows"`
}

// Column describes one table column. Field names and value domains are the
// same for every dialect.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"dataType"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int64  `json:"maxLength,omitempty"`
	Position  int     `json:"position"`
	KeyRole   KeyRole `json:"keyRole,omitempty"`
}

// View is a catalog view with its definition.
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Function is a stored function or procedure.
type Function struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Language   string `json:"language,omitempty"`
	Definition string `json:"definition,omitempty"`
}

// ColumnStats holds data-quality figures for one column.
type ColumnStats struct {
	Name          string  `json:"name"`
	DataType      string  `json:"dataType"`
	KeyRole       KeyRole `json:"keyRole,omitempty"`
	NullCount     int64   `json:"nullCount"`
	NullPct       float64 `json:"nullPct"`
	DistinctCount int64   `json:"distinctCount"`
	UniquenessPct float64 `json:"uniquenessPct"`
}

// TableStats holds data-quality figures for a table.
type TableStats struct {
	Table        string        `json:"table"`
	TotalRows    int64         `json:"totalRows"`
	ColumnCount  int           `json:"columnCount"`
	Completeness float64       `json:"completeness"`
	TotalNulls   int64         `json:"totalNulls"`
	Columns      []ColumnStats `json:"columns"`
}
