package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
)

func sampleContext() *schemactx.Context {
	return &schemactx.Context{
		Dialect:    database.DialectPostgres,
		Database:   "sales",
		TableCount: 2,
		Tables: []schemactx.Table{
			{Name: "orders", EstimatedRows: 1200, Size: "1 MB", Columns: []database.Column{
				{Name: "id", DataType: "integer", KeyRole: database.KeyPrimary},
				{Name: "total", DataType: "numeric"},
			}},
			{Name: "events", EstimatedRows: 0, Size: "8 kB"},
		},
	}
}

func TestFallback(t *testing.T) {
	sc := sampleContext()

	cases := []struct {
		name string
		msg  string
		sc   *schemactx.Context
		want string
	}{
		{"no connection", "show me all tables", nil, NoDatabaseReply},
		{"list tables", "Show me all tables", sc, "• **orders** (1200 rows, 1 MB)\n• **events** (? rows, 8 kB)"},
		{"columns", "What columns are in orders?", sc, "Schema for **orders**:\n\n• **id** (integer) [PK]\n• **total** (numeric)"},
		{"columns unknown table", "describe the structure of invoices", sc, `I couldn't find a table named "invoices"`},
		{"columns not sampled", "schema of events", sc, "I don't have the column details for **events**"},
		{"count", "how many rows in orders", sc, "The **orders** table has approximately **1200** rows."},
		{"sql help", "write a query for top customers", sc, "I can help you write SQL queries!"},
		{"trends", "revenue growth please", sc, "To analyze trends"},
		{"default", "hello", sc, "I'm your InsightDB data assistant."},
		{"schema error", "show tables", &schemactx.Context{Err: errors.New("failed to connect")}, "I encountered an issue while analyzing your data: failed to connect."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, Fallback(tc.msg, tc.sc), tc.want)
		})
	}
}
