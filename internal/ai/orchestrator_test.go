package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/databasetest"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/query"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
	"github.com/programmerrush/InsightDB-api/internal/secret"
	"github.com/programmerrush/InsightDB-api/internal/store"
	"github.com/programmerrush/InsightDB-api/internal/store/sqlite"
)

type step struct {
	text string
	err  error
}

// scriptedClient answers from steps, repeating the last one.
type scriptedClient struct {
	steps []step
	hang  bool

	mu    sync.Mutex
	calls int
	reqs  []Request
}

func (c *scriptedClient) Complete(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()

	if c.hang {
		<-ctx.Done()
		return "", errs.Wrap(errs.ErrKindTimeout, "model request timed out", ctx.Err())
	}
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	return c.steps[i].text, c.steps[i].err
}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type harness struct {
	orch   *Orchestrator
	st     *sqlite.Store
	drv    *databasetest.Driver
	connID string
}

func newHarness(t *testing.T, client Client, cfg Config, steps ...databasetest.Step) *harness {
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

	drv := databasetest.New(steps...)
	gw := database.NewGateway(database.DefaultOptions(), nil, drv)

	orch := New(Deps{
		Client:       client,
		Credentials:  st,
		Schema:       schemactx.NewBuilder(gw, schemactx.DefaultConfig(), nil),
		Runner:       query.New(query.Config{Gateway: gw, Credentials: st, History: st, Audit: st}),
		Conversation: st,
	}, cfg)
	orch.jitter = func(time.Duration) time.Duration { return 0 }

	return &harness{orch: orch, st: st, drv: drv, connID: conn.ID}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 20 * time.Millisecond
	cfg.MaxJitter = 0
	return cfg
}

func schemaSteps() []databasetest.Step {
	return []databasetest.Step{
		databasetest.TablesStep(map[string]int64{"orders": 80}, "orders"),
		databasetest.ColumnsStep("orders", [3]string{"id", "integer", "PK"}, [3]string{"total", "numeric", ""}),
	}
}

func ordersRows(n int) databasetest.Step {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("%d.00", i)}
	}
	return databasetest.Step{Match: "FROM orders", Cols: []string{"id", "total"}, Rows: rows, Affected: -1}
}

func TestChat_NoConnectionGivesGuidance(t *testing.T) {
	h := newHarness(t, nil, fastConfig())
	ctx := context.Background()

	resp, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", Message: "show me all tables"})
	require.NoError(t, err)
	assert.Equal(t, NoDatabaseReply, resp.Message.Content)
	assert.Equal(t, SourceFallback, resp.Metadata.Source)
	assert.NotEmpty(t, resp.SessionID)

	turns, err := h.orch.History(ctx, "u1", resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)
	assert.Equal(t, 0, h.drv.Opens())
}

func TestChat_AutoExecutesModelSQL(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "Here are the orders:\n```sql\nSELECT * FROM orders\n```"}}}
	steps := append(schemaSteps(), ordersRows(80))
	h := newHarness(t, client, fastConfig(), steps...)
	ctx := context.Background()

	resp, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "show me the orders"})
	require.NoError(t, err)
	assert.Equal(t, SourceModel, resp.Metadata.Source)
	assert.Equal(t, "postgres", resp.Metadata.Dialect)
	assert.Equal(t, "sales", resp.Metadata.Database)

	require.Len(t, resp.Metadata.Queries, 1)
	q := resp.Metadata.Queries[0]
	assert.Empty(t, q.Error)
	assert.Equal(t, "SELECT * FROM orders", q.SQL)
	assert.Len(t, q.Rows, 50)
	assert.Equal(t, 50, q.RowCount)
	assert.True(t, q.Truncated)
	assert.True(t, h.drv.Ran("SELECT * FROM orders LIMIT 50"))
	assert.Equal(t, h.drv.Opens(), h.drv.Closes())

	require.Len(t, client.reqs, 1)
	assert.Contains(t, client.reqs[0].System, "orders (~80 rows, 8 kB): id integer PK NULL, total numeric NULL")

	turns, err := h.orch.History(ctx, "u1", resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	var meta TurnMetadata
	require.NoError(t, json.Unmarshal(turns[1].Metadata, &meta))
	require.Len(t, meta.Queries, 1)
	assert.Len(t, meta.Queries[0].Rows, 50)
}

func TestChat_RejectsWritesWithoutExecuting(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "```sql\nDELETE FROM orders\n```\n```sql\nSELECT 1; DROP TABLE orders\n```"}}}
	h := newHarness(t, client, fastConfig(), schemaSteps()...)

	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "clean up"})
	require.NoError(t, err)

	require.Len(t, resp.Metadata.Queries, 2)
	for _, q := range resp.Metadata.Queries {
		assert.Equal(t, errs.ErrKindSafetyRejected.String(), q.ErrorKind)
		assert.NotEmpty(t, q.Error)
		assert.Empty(t, q.Rows)
	}
	assert.False(t, h.drv.Ran("DELETE"))
	assert.False(t, h.drv.Ran("DROP"))
}

func TestChat_RetriesWithoutRowCap(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "```sql\nSHOW TABLES\n```"}}}
	steps := append(schemaSteps(),
		databasetest.Step{Match: "SHOW TABLES LIMIT", Err: errs.New(errs.ErrKindSyntax, "syntax error near LIMIT")},
		databasetest.Step{Match: "SHOW TABLES", Cols: []string{"Tables_in_sales"}, Rows: [][]any{{"orders"}}, Affected: -1},
	)
	h := newHarness(t, client, fastConfig(), steps...)

	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "what tables"})
	require.NoError(t, err)
	require.Len(t, resp.Metadata.Queries, 1)
	q := resp.Metadata.Queries[0]
	assert.Empty(t, q.Error)
	assert.Equal(t, 1, q.RowCount)
	assert.True(t, h.drv.Ran("SHOW TABLES LIMIT 50"))
}

func TestChat_EngineErrorIsNotRetriedUncapped(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "```sql\nSELECT * FROM orders\n```"}}}
	steps := append(schemaSteps(),
		databasetest.Step{Match: "FROM orders", Err: errs.New(errs.ErrKindExecutionFailed, `permission denied for table orders`)},
	)
	h := newHarness(t, client, fastConfig(), steps...)
	ctx := context.Background()

	resp, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "orders?"})
	require.NoError(t, err)
	require.Len(t, resp.Metadata.Queries, 1)
	assert.Equal(t, errs.ErrKindExecutionFailed.String(), resp.Metadata.Queries[0].ErrorKind)

	var ran []string
	for _, q := range h.drv.Queries() {
		if strings.Contains(q, "FROM orders") {
			ran = append(ran, q)
		}
	}
	assert.Equal(t, []string{"SELECT * FROM orders LIMIT 50"}, ran)
}

func TestChat_UnreachableDatabaseRunsOnce(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "```sql\nSELECT * FROM orders\n```"}}}
	h := newHarness(t, client, fastConfig())
	h.drv.OpenErr = errs.New(errs.ErrKindConnectionFailed, "dial tcp 10.0.0.9:5432: connect: connection refused")
	ctx := context.Background()

	resp, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "orders?"})
	require.NoError(t, err)
	require.Len(t, resp.Metadata.Queries, 1)
	assert.Equal(t, errs.ErrKindConnectionFailed.String(), resp.Metadata.Queries[0].ErrorKind)

	history, total, err := h.st.ListQueries(ctx, "u1", store.HistoryFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, history, 1)
	assert.Equal(t, store.StatusError, history[0].Status)
	assert.Equal(t, "SELECT * FROM orders LIMIT 50", history[0].SQL)
}

func TestChat_RateLimitBackoffThenFallback(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errs.New(errs.ErrKindRateLimited, "model returned 429: slow down")}}}
	h := newHarness(t, client, fastConfig(), schemaSteps()...)

	start := time.Now()
	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", ConnectionID: h.connID, Message: "list the tables"})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, 3, client.Calls())
	assert.Equal(t, SourceFallback, resp.Metadata.Source)
	assert.Contains(t, resp.Message.Content, "**orders**")
	assert.Empty(t, resp.Metadata.Queries)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestChat_ModelErrorBecomesApology(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errs.New(errs.ErrKindPermissionDenied, "model returned 401: Incorrect API key provided: sk-abc123")}}}
	h := newHarness(t, client, fastConfig())

	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, SourceError, resp.Metadata.Source)
	assert.Contains(t, resp.Message.Content, "I encountered an issue while analyzing your data")
	assert.NotContains(t, resp.Message.Content, "abc123")
}

func TestChat_DeadlineBoundsModelPhase(t *testing.T) {
	client := &scriptedClient{hang: true}
	cfg := fastConfig()
	cfg.Deadline = 50 * time.Millisecond
	h := newHarness(t, client, cfg)

	start := time.Now()
	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, SourceError, resp.Metadata.Source)
}

func TestChat_ForeignConnectionDegrades(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "```sql\nSELECT * FROM orders\n```"}}}
	h := newHarness(t, client, fastConfig(), ordersRows(3))

	resp, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "intruder", ConnectionID: h.connID, Message: "orders?"})
	require.NoError(t, err)
	require.Len(t, resp.Metadata.Queries, 1)
	assert.Equal(t, errs.ErrKindNotFound.String(), resp.Metadata.Queries[0].ErrorKind)
	assert.Equal(t, 0, h.drv.Opens())
	assert.Contains(t, client.reqs[0].System, "could not be read")
}

func TestChat_SendsConversationWindow(t *testing.T) {
	client := &scriptedClient{steps: []step{{text: "first answer"}, {text: "second answer"}}}
	cfg := fastConfig()
	cfg.HistoryWindow = 3
	h := newHarness(t, client, cfg)
	ctx := context.Background()

	first, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", Message: "question one"})
	require.NoError(t, err)
	_, err = h.orch.Chat(ctx, ChatRequest{UserID: "u1", SessionID: first.SessionID, Message: "question two"})
	require.NoError(t, err)

	require.Len(t, client.reqs, 2)
	assert.Equal(t, []Message{
		{Role: store.RoleUser, Content: "question one"},
		{Role: store.RoleAssistant, Content: "first answer"},
		{Role: store.RoleUser, Content: "question two"},
	}, client.reqs[1].Messages)
	assert.Contains(t, client.reqs[1].System, "No database is connected")
}

func TestChat_RejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, nil, fastConfig())
	_, err := h.orch.Chat(context.Background(), ChatRequest{UserID: "u1", Message: "   "})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestSessions(t *testing.T) {
	h := newHarness(t, nil, fastConfig())
	ctx := context.Background()

	a, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", Message: "first session"})
	require.NoError(t, err)
	b, err := h.orch.Chat(ctx, ChatRequest{UserID: "u1", Message: "second session"})
	require.NoError(t, err)

	sessions, err := h.orch.Sessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, b.SessionID, sessions[0].SessionID)
	assert.Equal(t, "first session", sessions[1].Preview)

	require.NoError(t, h.orch.DeleteSession(ctx, "u1", a.SessionID))
	turns, err := h.orch.History(ctx, "u1", a.SessionID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	sessions, err = h.orch.Sessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
