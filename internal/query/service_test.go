package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/databasetest"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/filestore/filestoretest"
	"github.com/programmerrush/InsightDB-api/internal/secret"
	"github.com/programmerrush/InsightDB-api/internal/store"
	"github.com/programmerrush/InsightDB-api/internal/store/sqlite"
)

const bucket = "exports-test"

type fixture struct {
	svc    *Service
	st     *sqlite.Store
	drv    *databasetest.Driver
	files  *filestoretest.Store
	connID string
}

func newFixture(t *testing.T, steps ...databasetest.Step) *fixture {
	t.Helper()

	c, err := secret.NewCipher(make([]byte, secret.KeySize))
	require.NoError(t, err)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"), c, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	conn := &store.Connection{
		UserID:   "u1",
		Name:     "warehouse",
		Dialect:  database.DialectPostgres,
		Host:     "db.internal",
		Port:     5432,
		Database: "sales",
		Username: "analyst",
	}
	require.NoError(t, st.InsertConnection(context.Background(), conn, "hunter2"))

	files := filestoretest.New()
	require.NoError(t, files.EnsureBucket(context.Background(), bucket))

	drv := databasetest.New(steps...)
	svc := New(Config{
		Gateway:     database.NewGateway(database.DefaultOptions(), nil, drv),
		Credentials: st,
		History:     st,
		Audit:       st,
		Files:       files,
		Bucket:      bucket,
	})
	return &fixture{svc: svc, st: st, drv: drv, files: files, connID: conn.ID}
}

func countStep() databasetest.Step {
	return databasetest.Step{
		Match:    "count(*)",
		Cols:     []string{"count"},
		Rows:     [][]any{{int64(42)}},
		Affected: 1,
	}
}

func TestRun_RecordsSuccess(t *testing.T) {
	f := newFixture(t, countStep())
	ctx := context.Background()

	res, err := f.svc.Run(ctx, RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT count(*) FROM t"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowCount)
	assert.Equal(t, int64(42), res.Rows[0]["count"])
	assert.Equal(t, store.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.QueryID)
	assert.Equal(t, 1, f.drv.Closes())

	page, err := f.svc.History(ctx, "u1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Queries, 1)
	assert.Equal(t, res.QueryID, page.Queries[0].ID)
	assert.Equal(t, "Untitled Query", page.Queries[0].Title)
	assert.Equal(t, store.StatusSuccess, page.Queries[0].Status)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)

	entries, err := f.st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.ActionExecuteQuery, entries[0].Action)
	assert.Equal(t, res.QueryID, entries[0].ResourceID)
}

func TestRun_RecordsFailure(t *testing.T) {
	f := newFixture(t, databasetest.Step{
		Match: "FROM nope",
		Err:   errs.New(errs.ErrKindExecutionFailed, `query failed: relation "nope" does not exist`),
	})
	ctx := context.Background()

	_, err := f.svc.Run(ctx, RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT * FROM nope", Title: "broken"})
	require.Error(t, err)
	assert.True(t, errs.IsExecutionFailed(err))
	assert.Contains(t, err.Error(), `query execution failed: query failed: relation "nope" does not exist`)
	assert.Equal(t, 1, f.drv.Closes())

	page, err := f.svc.History(ctx, "u1", f.connID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Queries, 1)
	assert.Equal(t, store.StatusError, page.Queries[0].Status)
	assert.Equal(t, "broken", page.Queries[0].Title)
	assert.Contains(t, page.Queries[0].ErrorMessage, "does not exist")

	entries, err := f.st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ConnectionFailureIsExecutionFailed(t *testing.T) {
	f := newFixture(t)
	f.drv.OpenErr = errs.New(errs.ErrKindConnectionFailed, "failed to connect")

	_, err := f.svc.Run(context.Background(), RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT 1"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrKindExecutionFailed, errs.KindOf(err))
	assert.Equal(t, errs.ErrKindConnectionFailed, errs.RootKind(err))
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestRun_FailsClosedForOtherUsers(t *testing.T) {
	f := newFixture(t, countStep())

	_, err := f.svc.Run(context.Background(), RunRequest{UserID: "intruder", ConnectionID: f.connID, SQL: "SELECT count(*) FROM t"})
	assert.True(t, errs.IsNotFound(err))
	assert.Equal(t, 0, f.drv.Opens())

	page, err := f.svc.History(context.Background(), "intruder", "", 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Queries)
}

func TestRun_AuditTruncatesSQL(t *testing.T) {
	f := newFixture(t, countStep())
	ctx := context.Background()

	long := "SELECT count(*) FROM t WHERE " + strings.Repeat("x = 1 AND ", 100) + "true"
	_, err := f.svc.Run(ctx, RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: long})
	require.NoError(t, err)

	entries, err := f.st.ListAudit(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Details["sql"], auditSQLLimit)
}

func TestSavedQueries(t *testing.T) {
	f := newFixture(t, countStep())
	ctx := context.Background()

	_, err := f.svc.Save(ctx, SaveRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT 1"})
	assert.True(t, errs.IsInvalidInput(err))

	rec, err := f.svc.Save(ctx, SaveRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT 1", Title: "one"})
	require.NoError(t, err)
	assert.True(t, rec.Saved)

	saved, err := f.svc.Saved(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, saved, 1)

	toggled, err := f.svc.ToggleSaved(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Saved)

	saved, err = f.svc.Saved(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, saved)

	got, err := f.svc.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Title)

	require.NoError(t, f.svc.Delete(ctx, "u1", rec.ID))
	_, err = f.svc.Get(ctx, "u1", rec.ID)
	assert.True(t, errs.IsNotFound(err))
}

func ordersStep() databasetest.Step {
	return databasetest.Step{
		Match: "FROM orders",
		Cols:  []string{"id", "note"},
		Rows: [][]any{
			{int64(1), "first, with comma"},
			{int64(2), nil},
		},
		Affected: 2,
	}
}

func TestExport_CSV(t *testing.T) {
	f := newFixture(t, ordersStep())
	ctx := context.Background()

	exp, err := f.svc.Export(ctx, ExportRequest{
		RunRequest: RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT id, note FROM orders"},
		Format:     FormatCSV,
	})
	require.NoError(t, err)
	assert.Equal(t, "exports/u1/"+exp.QueryID+".csv", exp.Key)
	assert.Equal(t, int64(2), exp.RowCount)
	assert.True(t, strings.HasPrefix(exp.URL, "memory://"+bucket+"/"))

	records, err := csv.NewReader(strings.NewReader(string(f.files.Content(bucket, exp.Key)))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "note"}, {"1", "first, with comma"}, {"2", ""}}, records)

	entries, err := f.st.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.ActionExport, entries[0].Action)
	assert.Equal(t, store.ActionExecuteQuery, entries[1].Action)

	list, err := f.svc.Exports(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, exp.Key, list[0].Key)

	link, err := f.svc.ExportURL(ctx, "u1", exp.QueryID+".csv")
	require.NoError(t, err)
	assert.Contains(t, link, exp.Key)

	_, err = f.svc.ExportURL(ctx, "u1", "../u2/x.csv")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestExport_JSON(t *testing.T) {
	f := newFixture(t, ordersStep())

	exp, err := f.svc.Export(context.Background(), ExportRequest{
		RunRequest: RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT id, note FROM orders"},
		Format:     "JSON",
	})
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, exp.Format)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(f.files.Content(bucket, exp.Key), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "first, with comma", rows[0]["note"])
	assert.Nil(t, rows[1]["note"])
}

func TestExport_Rejections(t *testing.T) {
	f := newFixture(t, ordersStep())
	ctx := context.Background()

	_, err := f.svc.Export(ctx, ExportRequest{
		RunRequest: RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT id FROM orders"},
		Format:     "xlsx",
	})
	assert.True(t, errs.IsInvalidInput(err))
	assert.Equal(t, 0, f.drv.Opens())

	disabled := New(Config{Gateway: database.NewGateway(database.DefaultOptions(), nil, f.drv), Credentials: f.st, History: f.st})
	_, err = disabled.Export(ctx, ExportRequest{RunRequest: RunRequest{UserID: "u1", ConnectionID: f.connID, SQL: "SELECT 1"}})
	assert.True(t, errs.IsUnsupported(err))
}
