// Package query runs user-submitted SQL against saved connections and keeps
// the user's query history.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/filestore"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

const (
	defaultTitle   = "Untitled Query"
	auditSQLLimit  = 500
	resourceQuery  = "query"
	defaultPerPage = 20
	maxPerPage     = 100
)

// Config wires a Service. Files may be nil, in which case exports are
// unavailable.
type Config struct {
	Gateway     *database.Gateway
	Credentials store.CredentialStore
	History     store.HistoryStore
	Audit       store.AuditLog
	Files       filestore.Store
	Bucket      string
	PresignTTL  time.Duration
	Logger      *logger.Logger
}

// Service is safe for concurrent use.
type Service struct {
	gw      *database.Gateway
	creds   store.CredentialStore
	history store.HistoryStore
	audit   store.AuditLog
	files   filestore.Store
	bucket  string
	ttl     time.Duration
	log     *logger.Logger
}

// New returns a Service from cfg.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		gw:      cfg.Gateway,
		creds:   cfg.Credentials,
		history: cfg.History,
		audit:   cfg.Audit,
		files:   cfg.Files,
		bucket:  cfg.Bucket,
		ttl:     ttl,
		log:     log,
	}
}

// RunRequest is one ad-hoc statement to execute.
type RunRequest struct {
	UserID       string
	ConnectionID string
	SQL          string
	Title        string
}

// Result is a successful execution together with its history id.
type Result struct {
	QueryID    string                `json:"queryId"`
	Rows       []map[string]any      `json:"rows"`
	RowCount   int64                 `json:"rowCount"`
	Columns    []database.ColumnMeta `json:"fields"`
	DurationMS int64                 `json:"duration"`
	Status     string                `json:"status"`
}

// Run executes req.SQL on the user's connection and records the outcome in
// the history. Lookup failures for the connection are returned unchanged;
// any failure of the statement itself is returned as ExecutionFailed
// wrapping the gateway error, so errs.RootKind still tells a refused
// connection from a syntax error.
func (s *Service) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.SQL == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "sql is required")
	}
	creds, err := s.creds.GetCredentials(ctx, req.UserID, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = defaultTitle
	}
	rec := &store.QueryRecord{
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		Title:        title,
		SQL:          req.SQL,
	}

	res, err := s.gw.Execute(ctx, creds, req.SQL)
	if err != nil {
		msg := engineMessage(err)
		rec.Status = store.StatusError
		rec.ErrorMessage = msg
		s.recordHistory(ctx, rec)
		return nil, errs.Wrap(errs.ErrKindExecutionFailed, "query execution failed: "+msg, err)
	}

	rec.Status = store.StatusSuccess
	rec.RowCount = res.RowCount
	rec.DurationMS = res.DurationMS
	s.recordHistory(ctx, rec)

	s.record(ctx, &store.AuditEntry{
		UserID:     req.UserID,
		Action:     store.ActionExecuteQuery,
		Resource:   resourceQuery,
		ResourceID: rec.ID,
		Details: map[string]any{
			"sql":      truncate(req.SQL, auditSQLLimit),
			"duration": res.DurationMS,
		},
	})

	return &Result{
		QueryID:    rec.ID,
		Rows:       res.Rows,
		RowCount:   res.RowCount,
		Columns:    res.Columns,
		DurationMS: res.DurationMS,
		Status:     store.StatusSuccess,
	}, nil
}

// SaveRequest bookmarks a statement without running it.
type SaveRequest struct {
	UserID       string
	ConnectionID string
	SQL          string
	Title        string
}

// Save stores req as a bookmarked query.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*store.QueryRecord, error) {
	if req.SQL == "" || req.Title == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "sql and title are required")
	}
	rec := &store.QueryRecord{
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		Title:        req.Title,
		SQL:          req.SQL,
		Status:       store.StatusSuccess,
		Saved:        true,
	}
	if err := s.history.RecordQuery(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HistoryPage is one page of a user's query history.
type HistoryPage struct {
	Queries []store.QueryRecord `json:"queries"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
}

// History returns one page of the user's history, newest first.
func (s *Service) History(ctx context.Context, userID, connectionID string, page, limit int) (*HistoryPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPerPage
	}
	if limit > maxPerPage {
		limit = maxPerPage
	}

	rows, total, err := s.history.ListQueries(ctx, userID, store.HistoryFilter{
		ConnectionID: connectionID,
		Page:         page,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Queries: rows, Total: total, Page: page, Limit: limit}, nil
}

// Saved returns the user's bookmarked queries, most recently touched first.
func (s *Service) Saved(ctx context.Context, userID, connectionID string) ([]store.QueryRecord, error) {
	rows, _, err := s.history.ListQueries(ctx, userID, store.HistoryFilter{
		ConnectionID: connectionID,
		SavedOnly:    true,
		Limit:        maxPerPage,
	})
	return rows, err
}

// Get returns one history record of the user.
func (s *Service) Get(ctx context.Context, userID, queryID string) (*store.QueryRecord, error) {
	return s.history.GetQuery(ctx, userID, queryID)
}

// Delete removes one history record of the user.
func (s *Service) Delete(ctx context.Context, userID, queryID string) error {
	return s.history.DeleteQuery(ctx, userID, queryID)
}

// ToggleSaved flips the bookmark flag of one history record.
func (s *Service) ToggleSaved(ctx context.Context, userID, queryID string) (*store.QueryRecord, error) {
	return s.history.ToggleSaved(ctx, userID, queryID)
}

func (s *Service) recordHistory(ctx context.Context, rec *store.QueryRecord) {
	if err := s.history.RecordQuery(ctx, rec); err != nil {
		s.log.Ctx(ctx).WarnWith("failed to record query history", err, map[string]interface{}{
			"user_id":       rec.UserID,
			"connection_id": rec.ConnectionID,
			"status":        rec.Status,
		})
	}
}

func (s *Service) record(ctx context.Context, e *store.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAudit(ctx, e); err != nil {
		s.log.Ctx(ctx).WarnWith("failed to write audit entry", err, map[string]interface{}{
			"action":      e.Action,
			"resource_id": e.ResourceID,
		})
	}
}

// engineMessage extracts the most specific message from a gateway error,
// with anything resembling a secret masked.
func engineMessage(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) {
		return logger.Mask(err.Error())
	}
	msg := e.Message
	// Execution and syntax failures already carry the engine text in Message.
	if e.Kind != errs.ErrKindExecutionFailed && e.Kind != errs.ErrKindSyntax && e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return logger.Mask(msg)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
