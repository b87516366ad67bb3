package schemactx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/databasetest"
	"github.com/programmerrush/InsightDB-api/internal/errs"
)

var creds = database.Credentials{Dialect: database.DialectPostgres, Host: "db", Database: "sales", Username: "u", Password: "p"}

type fakeSource struct {
	tables  []database.Table
	listErr error
	fail    map[string]error
	hang    map[string]bool

	mu      sync.Mutex
	fetched []string
	active  int32
	peak    int32
}

func (f *fakeSource) ListTables(context.Context, database.Credentials, string) ([]database.Table, error) {
	return f.tables, f.listErr
}

func (f *fakeSource) ListColumns(ctx context.Context, _ database.Credentials, _, table string) ([]database.Column, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, table)
	f.mu.Unlock()

	if f.hang[table] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)
	if err := f.fail[table]; err != nil {
		return nil, err
	}
	return []database.Column{{Name: "id", DataType: "integer", Position: 1, KeyRole: database.KeyPrimary}}, nil
}

func tables(n int) []database.Table {
	out := make([]database.Table, n)
	for i := range out {
		out[i] = database.Table{Name: fmt.Sprintf("t%02d", i), EstimatedRows: int64(i * 10), Size: "8 kB"}
	}
	return out
}

func TestBuild_Caps(t *testing.T) {
	src := &fakeSource{tables: tables(25)}
	ctx := NewBuilder(src, DefaultConfig(), nil).Build(context.Background(), creds)

	require.NoError(t, ctx.Err)
	assert.Equal(t, 25, ctx.TableCount)
	require.Len(t, ctx.Tables, 20)
	assert.Len(t, src.fetched, 8)
	for i, tbl := range ctx.Tables {
		if i < 8 {
			assert.Len(t, tbl.Columns, 1, tbl.Name)
		} else {
			assert.Nil(t, tbl.Columns, tbl.Name)
		}
	}
	assert.Equal(t, "t00", ctx.Tables[0].Name)
	assert.Equal(t, "t19", ctx.Tables[19].Name)
}

func TestBuild_OneFailingTableKeepsItsSlot(t *testing.T) {
	src := &fakeSource{
		tables: tables(8),
		fail:   map[string]error{"t03": errs.New(errs.ErrKindExecutionFailed, "permission denied for table t03")},
	}
	ctx := NewBuilder(src, DefaultConfig(), nil).Build(context.Background(), creds)

	require.Len(t, ctx.Tables, 8)
	for _, tbl := range ctx.Tables {
		require.NotNil(t, tbl.Columns, tbl.Name)
		if tbl.Name == "t03" {
			assert.Empty(t, tbl.Columns)
		} else {
			assert.Len(t, tbl.Columns, 1)
		}
	}
}

func TestBuild_SlowTableIsBounded(t *testing.T) {
	src := &fakeSource{tables: tables(4), hang: map[string]bool{"t01": true}}
	cfg := DefaultConfig()
	cfg.TableTimeout = 50 * time.Millisecond

	start := time.Now()
	ctx := NewBuilder(src, cfg, nil).Build(context.Background(), creds)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, ctx.Tables, 4)
	assert.Empty(t, ctx.Tables[1].Columns)
	assert.Len(t, ctx.Tables[0].Columns, 1)
	assert.Len(t, ctx.Tables[3].Columns, 1)
}

func TestBuild_ParallelismIsBounded(t *testing.T) {
	src := &fakeSource{tables: tables(8)}
	cfg := DefaultConfig()
	cfg.Parallelism = 2

	NewBuilder(src, cfg, nil).Build(context.Background(), creds)
	assert.LessOrEqual(t, atomic.LoadInt32(&src.peak), int32(2))
	assert.Len(t, src.fetched, 8)
}

func TestBuild_ListingFailureDegrades(t *testing.T) {
	src := &fakeSource{listErr: errs.New(errs.ErrKindConnectionFailed, "failed to connect")}
	ctx := NewBuilder(src, DefaultConfig(), nil).Build(context.Background(), creds)

	require.Error(t, ctx.Err)
	assert.Empty(t, ctx.Tables)
	assert.Contains(t, ctx.Describe(), "could not be read")
	assert.Contains(t, ctx.Describe(), "failed to connect")
}

func TestBuild_AgainstGateway(t *testing.T) {
	drv := databasetest.New(
		databasetest.TablesStep(map[string]int64{"orders": 1200}, "orders", "customers"),
		databasetest.ColumnsStep("orders", [3]string{"id", "integer", "PK"}, [3]string{"customer_id", "integer", "FK"}),
		databasetest.Step{Match: "CATALOG COLUMNS customers", Err: errors.New("boom")},
	)
	gw := database.NewGateway(database.DefaultOptions(), nil, drv)

	ctx := NewBuilder(gw, DefaultConfig(), nil).Build(context.Background(), creds)
	require.NoError(t, ctx.Err)
	require.Len(t, ctx.Tables, 2)

	orders, ok := ctx.Table("ORDERS")
	require.True(t, ok)
	assert.Equal(t, int64(1200), orders.EstimatedRows)
	require.Len(t, orders.Columns, 2)
	assert.Equal(t, database.KeyForeign, orders.Columns[1].KeyRole)

	customers, ok := ctx.Table("customers")
	require.True(t, ok)
	assert.Empty(t, customers.Columns)

	assert.Equal(t, drv.Opens(), drv.Closes())
}

func TestDescribe(t *testing.T) {
	c := &Context{
		Dialect:    database.DialectMySQL,
		Database:   "shop",
		TableCount: 30,
		Tables: []Table{
			{Name: "orders", EstimatedRows: 1200, Size: "1.5 MB", Columns: []database.Column{
				{Name: "id", DataType: "int", KeyRole: database.KeyPrimary},
				{Name: "note", DataType: "text", Nullable: true},
			}},
			{Name: "logs", EstimatedRows: 5, Size: "16 kB"},
		},
	}

	want := "Connected to mysql database \"shop\" with 30 tables (first 2 listed).\n" +
		"- orders (~1200 rows, 1.5 MB): id int PK, note text NULL\n" +
		"- logs (~5 rows, 16 kB)\n"
	assert.Equal(t, want, c.Describe())

	var none *Context
	assert.Equal(t, "No database is connected.", none.Describe())
}
