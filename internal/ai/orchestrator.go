package ai

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/query"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

// Config tunes a chat turn.
type Config struct {
	// HistoryWindow is how many recent turns are sent to the model.
	HistoryWindow int `yaml:"history_window"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// RetryBaseDelay and MaxJitter shape the rate-limit backoff:
	// attempt n waits RetryBaseDelay*n plus up to MaxJitter.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxJitter      time.Duration `yaml:"max_jitter"`
	MaxRetries     int           `yaml:"max_retries"`

	// Deadline bounds the whole model phase, backoff included.
	Deadline time.Duration `yaml:"deadline"`

	// MaxSQLBlocks and RowCap bound auto-execution.
	MaxSQLBlocks int `yaml:"max_sql_blocks"`
	RowCap       int `yaml:"row_cap"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:  10,
		Temperature:    0.2,
		MaxTokens:      1024,
		RetryBaseDelay: time.Second,
		MaxJitter:      500 * time.Millisecond,
		MaxRetries:     2,
		Deadline:       60 * time.Second,
		MaxSQLBlocks:   3,
		RowCap:         50,
	}
}

// Runner executes a statement on a saved connection. *query.Service
// implements it.
type Runner interface {
	Run(ctx context.Context, req query.RunRequest) (*query.Result, error)
}

// ContextBuilder samples a connection's schema. *schemactx.Builder
// implements it.
type ContextBuilder interface {
	Build(ctx context.Context, creds database.Credentials) *schemactx.Context
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Client       Client
	Credentials  store.CredentialStore
	Schema       ContextBuilder
	Runner       Runner
	Conversation store.ConversationLog
	Logger       *logger.Logger
}

// Reply sources recorded in turn metadata.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
	SourceError    = "error"
)

const chatQueryTitle = "AI assistant query"

// ChatRequest is one user message.
type ChatRequest struct {
	UserID       string
	ConnectionID string
	SessionID    string
	Message      string
}

// ExecutedQuery is the outcome of one auto-executed SQL block.
type ExecutedQuery struct {
	SQL       string                `json:"sql"`
	Columns   []database.ColumnMeta `json:"columns,omitempty"`
	Rows      []map[string]any      `json:"rows,omitempty"`
	RowCount  int                   `json:"rowCount"`
	Truncated bool                  `json:"truncated,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"errorKind,omitempty"`
}

// TurnMetadata is stored with every assistant turn.
type TurnMetadata struct {
	ConnectionID string          `json:"connectionId,omitempty"`
	Dialect      string          `json:"dbType,omitempty"`
	Database     string          `json:"database,omitempty"`
	Source       string          `json:"source"`
	Queries      []ExecutedQuery `json:"queries,omitempty"`
}

// ChatResponse is the persisted assistant turn.
type ChatResponse struct {
	SessionID string        `json:"sessionId"`
	Message   store.Turn    `json:"message"`
	Metadata  *TurnMetadata `json:"metadata"`
}

// Orchestrator runs chat turns. It is safe for concurrent use.
type Orchestrator struct {
	client Client
	creds  store.CredentialStore
	schema ContextBuilder
	runner Runner
	conv   store.ConversationLog
	cfg    Config
	log    *logger.Logger
	jitter func(limit time.Duration) time.Duration
}

// New returns an Orchestrator. A nil Client behaves as Unconfigured and
// zero config fields take their defaults.
func New(d Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.MaxSQLBlocks <= 0 {
		cfg.MaxSQLBlocks = def.MaxSQLBlocks
	}
	if cfg.RowCap <= 0 {
		cfg.RowCap = def.RowCap
	}

	client := d.Client
	if client == nil {
		client = Unconfigured{}
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Orchestrator{
		client: client,
		creds:  d.Credentials,
		schema: d.Schema,
		runner: d.Runner,
		conv:   d.Conversation,
		cfg:    cfg,
		log:    log,
		jitter: randomJitter,
	}
}

// Chat answers one user message. The user turn is stored before anything
// else happens; model and database failures end up in the reply text, not
// in the returned error, which only reports invalid input or storage
// failures.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "message is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	sessionID := req.SessionID

	// RECEIVED
	userTurn := &store.Turn{
		UserID:       req.UserID,
		SessionID:    sessionID,
		ConnectionID: req.ConnectionID,
		Role:         store.RoleUser,
		Content:      req.Message,
	}
	if err := o.conv.AppendTurn(ctx, userTurn); err != nil {
		return nil, err
	}

	// CONTEXT_GATHERED
	meta := &TurnMetadata{ConnectionID: req.ConnectionID}
	var (
		sc      *schemactx.Context
		dialect database.Dialect
		dbErr   error
	)
	if req.ConnectionID != "" {
		creds, err := o.creds.GetCredentials(ctx, req.UserID, req.ConnectionID)
		if err != nil {
			dbErr = err
			sc = &schemactx.Context{Err: err}
		} else {
			dialect = creds.Dialect
			meta.Dialect = string(creds.Dialect)
			meta.Database = creds.Database
			sc = o.schema.Build(ctx, creds)
		}
	}

	// MODEL_CALLED
	var reply string
	if !configured(o.client) {
		reply, meta.Source = Fallback(req.Message, sc), SourceFallback
	} else {
		history, err := o.conv.RecentTurns(ctx, req.UserID, sessionID, o.cfg.HistoryWindow)
		if err != nil {
			o.log.Ctx(ctx).WarnWith("failed to load conversation window", err, map[string]interface{}{"session_id": sessionID})
			history = []store.Turn{*userTurn}
		}
		reply, meta.Source = o.ask(ctx, req, sc, history)
	}

	// SQL_EXTRACTED, AUTO_EXECUTED
	if meta.Source == SourceModel {
		for _, stmt := range ExtractSQL(reply, o.cfg.MaxSQLBlocks) {
			meta.Queries = append(meta.Queries, o.autoExecute(ctx, req, stmt, dialect, dbErr))
		}
	}

	// RESPONDED
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindFormat, "failed to encode turn metadata", err)
	}
	assistant := &store.Turn{
		UserID:       req.UserID,
		SessionID:    sessionID,
		ConnectionID: req.ConnectionID,
		Role:         store.RoleAssistant,
		Content:      reply,
		Metadata:     raw,
	}
	if err := o.conv.AppendTurn(ctx, assistant); err != nil {
		return nil, err
	}

	return &ChatResponse{SessionID: sessionID, Message: *assistant, Metadata: meta}, nil
}

// ask calls the model with rate-limit backoff under the overall deadline.
// It always produces a reply: rate limiting that outlasts the retries falls
// back to the rule-based responder and any other failure becomes an apology.
func (o *Orchestrator) ask(ctx context.Context, req ChatRequest, sc *schemactx.Context, history []store.Turn) (string, string) {
	mctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	creq := Request{
		System:      systemPrompt(sc, o.cfg.RowCap),
		Messages:    toMessages(history),
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	var (
		reply   string
		lastErr error
		calls   int
	)
	err := retry.Do(
		func() error {
			calls++
			out, err := o.client.Complete(mctx, creq)
			lastErr = err
			if err != nil {
				return err
			}
			reply = out
			return nil
		},
		retry.Context(mctx),
		retry.Attempts(uint(o.cfg.MaxRetries+1)),
		retry.RetryIf(errs.IsRateLimited),
		retry.DelayType(o.backoff),
	)
	if err == nil && lastErr == nil {
		return reply, SourceModel
	}
	if lastErr == nil {
		lastErr = err
	}

	fields := map[string]interface{}{
		"user_id":    req.UserID,
		"session_id": req.SessionID,
		"calls":      calls,
	}
	if errs.IsRateLimited(lastErr) {
		o.log.Ctx(ctx).WarnWith("model rate limited, answering from fallback", lastErr, fields)
		return Fallback(req.Message, sc), SourceFallback
	}
	if mctx.Err() != nil && !errs.IsTimeout(lastErr) {
		lastErr = errs.Wrap(errs.ErrKindTimeout, "the AI service did not answer in time", mctx.Err())
	}
	o.log.Ctx(ctx).ErrorWith("model call failed", lastErr, fields)
	return issueReply(userFacing(lastErr)), SourceError
}

func (o *Orchestrator) backoff(n uint, _ error, _ *retry.Config) time.Duration {
	return o.cfg.RetryBaseDelay*time.Duration(n+1) + o.jitter(o.cfg.MaxJitter)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// autoExecute gates stmt and runs it with a row cap. An empty dialect means
// no database is attached. Rejections and failures are recorded on the
// result, never returned.
func (o *Orchestrator) autoExecute(ctx context.Context, req ChatRequest, stmt string, dialect database.Dialect, dbErr error) ExecutedQuery {
	out := ExecutedQuery{SQL: stmt}

	if err := CheckReadOnly(stmt, dialect); err != nil {
		return failed(out, err)
	}
	if dialect == "" {
		if dbErr == nil {
			dbErr = errs.New(errs.ErrKindInvalidInput, "no database connection is attached to this chat")
		}
		return failed(out, dbErr)
	}

	run := func(sql string) (*query.Result, error) {
		return o.runner.Run(ctx, query.RunRequest{
			UserID:       req.UserID,
			ConnectionID: req.ConnectionID,
			SQL:          sql,
			Title:        chatQueryTitle,
		})
	}

	// Only a parse error can be blamed on the appended cap.
	capped, appended := withRowCap(stmt, o.cfg.RowCap, dialect)
	res, err := run(capped)
	if err != nil && appended && errs.RootKind(err) == errs.ErrKindSyntax {
		o.log.Ctx(ctx).Debug("retrying auto-executed query without row cap")
		res, err = run(stmt)
	}
	if err != nil {
		return failed(out, err)
	}

	out.Columns = res.Columns
	out.Rows = res.Rows
	if len(out.Rows) > o.cfg.RowCap {
		out.Rows = out.Rows[:o.cfg.RowCap]
		out.Truncated = true
	}
	out.RowCount = len(out.Rows)
	return out
}

func failed(q ExecutedQuery, err error) ExecutedQuery {
	q.Error = userFacing(err).Error()
	q.ErrorKind = errs.RootKind(err).String()
	return q
}

// userFacing strips the kind prefix and cause chain from err.
func userFacing(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return errors.New(logger.Mask(e.Message))
	}
	return errors.New(logger.Mask(err.Error()))
}

func toMessages(turns []store.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		if t.Role != store.RoleUser && t.Role != store.RoleAssistant {
			continue
		}
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func systemPrompt(sc *schemactx.Context, rowCap int) string {
	var sb strings.Builder
	sb.WriteString("You are InsightDB's data assistant. You help users explore their database, write SQL and understand their data.\n\n")

	switch {
	case sc == nil:
		sb.WriteString("No database is connected. Answer general SQL questions and suggest connecting a database for data-specific insights.\n")
	case sc.Err != nil:
		sb.WriteString(sc.Describe())
		sb.WriteString("\nWork without the schema and say so when it matters.\n")
	default:
		sb.WriteString(sc.Describe())
		sb.WriteString("\nUse only the tables and columns listed above and the ")
		sb.WriteString(string(sc.Dialect))
		sb.WriteString(" SQL dialect.\n")
	}

	sb.WriteString("\nWhen a query answers the question, put it in a ```sql fenced block. ")
	sb.WriteString("Only single read-only statements starting with SELECT, WITH, EXPLAIN, SHOW or DESCRIBE are run automatically, ")
	sb.WriteString("and at most ")
	sb.WriteString(strconv.Itoa(rowCap))
	sb.WriteString(" rows are shown. Never suggest statements that modify data.")
	return sb.String()
}

// Sessions lists the user's chat sessions, most recent first.
func (o *Orchestrator) Sessions(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	return o.conv.ListSessions(ctx, userID)
}

// History returns every turn of one session, oldest first.
func (o *Orchestrator) History(ctx context.Context, userID, sessionID string) ([]store.Turn, error) {
	return o.conv.SessionTurns(ctx, userID, sessionID)
}

// DeleteSession removes every turn of one session.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	n, err := o.conv.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	o.log.Ctx(ctx).InfoWith("chat session deleted", map[string]interface{}{
		"user_id":    userID,
		"session_id": sessionID,
		"turns":      n,
	})
	return nil
}
