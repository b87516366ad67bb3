package database

import (
	"database/sql/driver"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Catalog rows come back with engine-specific key casing (MySQL reports
// information_schema columns upper-case unless aliased). Everything below
// reads through lowerKeys so the typed shapes are identical for each dialect.

func lowerKeys(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[strings.ToLower(k)] = v
	}
	return out
}

func str(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func optStr(row map[string]any, key string) *string {
	if v, ok := row[key]; !ok || v == nil {
		return nil
	}
	s := str(row, key)
	return &s
}

func optInt(row map[string]any, key string) *int64 {
	n, ok := toInt64(row[key])
	if !ok {
		return nil
	}
	return &n
}

// toInt64 coerces the numeric shapes drivers hand back for counts and sizes.
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case int:
		return int64(t), true
	case uint64:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint:
		return int64(t), true
	case float64:
		return int64(t), true
	case float32:
		return int64(t), true
	case []byte:
		return parseInt(string(t))
	case string:
		return parseInt(t)
	default:
		return parseInt(fmt.Sprint(t))
	}
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// toFloat64 coerces aggregate results. PostgreSQL NUMERIC arrives as a
// driver.Valuer, MySQL DECIMAL as text.
func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case []byte:
		return parseFloat(string(t))
	case string:
		return parseFloat(t)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return 0, false
		}
		if _, again := dv.(driver.Valuer); again {
			return 0, false
		}
		return toFloat64(dv)
	default:
		return parseFloat(fmt.Sprint(t))
	}
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func optFloat(v any) *float64 {
	f, ok := toFloat64(v)
	if !ok {
		return nil
	}
	f = round2(f)
	return &f
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "YES") || strings.EqualFold(t, "true")
	case []byte:
		return toBool(string(t))
	default:
		n, ok := toInt64(v)
		return ok && n != 0
	}
}

func tablesFrom(rows []map[string]any) []Table {
	out := make([]Table, 0, len(rows))
	for _, raw := range rows {
		row := lowerKeys(raw)
		n, _ := toInt64(row["estimated_rows"])
		if n < 0 {
			n = 0
		}
		out = append(out, Table{
			Name:          str(row, "table_name"),
			Type:          str(row, "table_type"),
			Schema:        str(row, "table_schema"),
			Size:          str(row, "size"),
			EstimatedRows: n,
		})
	}
	return out
}

// columnsFrom folds the catalog's one-row-per-constraint output into one
// Column per name, keeping the strongest key role (PK > FK > UQ).
func columnsFrom(rows []map[string]any) []Column {
	byName := make(map[string]*Column, len(rows))
	order := make([]string, 0, len(rows))

	for _, raw := range rows {
		row := lowerKeys(raw)
		name := str(row, "column_name")
		role := KeyRole(strings.ToUpper(str(row, "key_type")))
		if role.rank() == 0 {
			role = KeyNone
		}

		if existing, ok := byName[name]; ok {
			if role.rank() > existing.KeyRole.rank() {
				existing.KeyRole = role
			}
			continue
		}

		pos, _ := toInt64(row["ordinal_position"])
		byName[name] = &Column{
			Name:      name,
			DataType:  str(row, "data_type"),
			Nullable:  toBool(row["is_nullable"]),
			Default:   optStr(row, "column_default"),
			MaxLength: optInt(row, "character_maximum_length"),
			Position:  int(pos),
			KeyRole:   role,
		}
		order = append(order, name)
	}

	out := make([]Column, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func viewsFrom(rows []map[string]any) []View {
	out := make([]View, 0, len(rows))
	for _, raw := range rows {
		row := lowerKeys(raw)
		out = append(out, View{
			Name:       str(row, "table_name"),
			Definition: str(row, "view_definition"),
		})
	}
	return out
}

func functionsFrom(rows []map[string]any) []Function {
	out := make([]Function, 0, len(rows))
	for _, raw := range rows {
		row := lowerKeys(raw)
		out = append(out, Function{
			Name:       str(row, "routine_name"),
			Kind:       strings.ToLower(str(row, "routine_type")),
			Language:   str(row, "language"),
			Definition: str(row, "definition"),
		})
	}
	return out
}

func firstString(rows []map[string]any, key string) string {
	if len(rows) == 0 {
		return ""
	}
	return str(lowerKeys(rows[0]), key)
}

func stringsFrom(rows []map[string]any, key string) []string {
	out := make([]string, 0, len(rows))
	for _, raw := range rows {
		out = append(out, str(lowerKeys(raw), key))
	}
	return out
}
