package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/databasetest"
)

func TestInsights_Trends(t *testing.T) {
	ts := newTestServer(t,
		databasetest.TablesStep(nil, "orders"),
		databasetest.ColumnsStep("orders", [3]string{"created_at", "timestamp", ""}),
		databasetest.Step{
			Match: `TRUNC(week, "created_at")`,
			Cols:  []string{"period_start", "record_count"},
			Rows:  [][]any{{"2026-10-12", int64(7)}, {"2026-10-05", int64(4)}},
		},
	)

	code, resp := ts.do(t, http.MethodGet,
		"/api/connections/"+ts.connID+"/insights/tables/orders/trends?dateColumn=created_at&groupBy=week", "u1", nil)
	require.Equal(t, http.StatusOK, code, resp.Message)

	var tr database.Trend
	require.NoError(t, json.Unmarshal(resp.Data, &tr))
	assert.Equal(t, database.PeriodWeek, tr.GroupBy)
	assert.Equal(t, []database.TrendPoint{
		{Period: "2026-10-05", Count: 4},
		{Period: "2026-10-12", Count: 7},
	}, tr.Points)
}

func TestInsights_TrendsValidation(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(t, http.MethodGet, "/api/connections/"+ts.connID+"/insights/tables/orders/trends", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", resp.Error.Kind)

	code, resp = ts.do(t, http.MethodGet,
		"/api/connections/"+ts.connID+"/insights/tables/orders/trends?dateColumn=created_at&groupBy=hour", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error.Message, "unsupported period")
	assert.Zero(t, ts.drv.Opens())
}

func TestInsights_TableAndAuto(t *testing.T) {
	ts := newTestServer(t,
		databasetest.TablesStep(map[string]int64{"orders": 3}, "orders"),
		databasetest.ColumnsStep("orders", [3]string{"total", "numeric", ""}),
		databasetest.Step{Match: `MIN("total")`, Cols: []string{"min_value", "max_value", "avg_value"}, Rows: [][]any{{"1.5", "9", "4.25"}}},
		databasetest.Step{Match: "COUNT(DISTINCT", Cols: []string{"null_count", "distinct_count"}, Rows: [][]any{{int64(0), int64(3)}}},
		databasetest.Step{Match: "AS total", Cols: []string{"total"}, Rows: [][]any{{int64(3)}}},
		databasetest.Step{Match: "sample_data", Cols: []string{"sampled", "null_0"}, Rows: [][]any{{int64(3), int64(0)}}},
	)

	code, resp := ts.do(t, http.MethodGet, "/api/connections/"+ts.connID+"/insights/tables/orders", "u1", nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var ins database.TableInsights
	require.NoError(t, json.Unmarshal(resp.Data, &ins))
	assert.Equal(t, int64(3), ins.TotalRows)
	require.Len(t, ins.Numeric, 1)
	assert.Equal(t, 4.25, *ins.Numeric[0].Avg)

	code, resp = ts.do(t, http.MethodGet, "/api/connections/"+ts.connID+"/insights/auto", "u1", nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var ai database.AutoInsights
	require.NoError(t, json.Unmarshal(resp.Data, &ai))
	require.Len(t, ai.Tables, 1)
	assert.Equal(t, 100.0, ai.OverallCompleteness)
	assert.Equal(t, []database.TypeCount{{Type: "numeric", Count: 1}}, ai.ColumnTypes)

	code, resp = ts.do(t, http.MethodGet, "/api/connections/"+ts.connID+"/insights/auto", "intruder", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", resp.Error.Kind)
}
