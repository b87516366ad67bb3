// Package store defines the persistence collaborators the core depends on:
// saved connections and their encrypted secrets, query history, the audit
// log, and the chat conversation log.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/database"
)

// Connection is a saved target database. It never carries the password.
type Connection struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	Name            string           `json:"name"`
	Dialect         database.Dialect `json:"dbType"`
	Host            string           `json:"host"`
	Port            int              `json:"port"`
	Database        string           `json:"database"`
	Username        string           `json:"username"`
	TLS             bool             `json:"ssl"`
	LastConnectedAt *time.Time       `json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Credentials rebuilds plaintext credentials from c and password.
func (c *Connection) Credentials(password string) database.Credentials {
	return database.Credentials{
		Dialect:  c.Dialect,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.Username,
		Password: password,
		TLS:      c.TLS,
	}
}

// Query status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// QueryRecord is one row of query history.
type QueryRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Title        string    `json:"title"`
	SQL          string    `json:"sql"`
	Status       string    `json:"status"`
	RowCount     int64     `json:"rowCount"`
	DurationMS   int64     `json:"duration"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Saved        bool      `json:"isSaved"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HistoryFilter selects a page of a user's query history.
type HistoryFilter struct {
	ConnectionID string
	SavedOnly    bool
	Page         int
	Limit        int
}

// Audit actions.
const (
	ActionCreate       = "CREATE"
	ActionUpdate       = "UPDATE"
	ActionDelete       = "DELETE"
	ActionExecuteQuery = "EXECUTE_QUERY"
	ActionExport       = "EXPORT_QUERY"
)

// AuditEntry records one security-relevant action.
type AuditEntry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one persisted chat message.
type Turn struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	SessionID    string          `json:"sessionId"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SessionSummary describes one chat session of a user.
type SessionSummary struct {
	SessionID     string    `json:"sessionId"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
	Preview       string    `json:"preview,omitempty"`
}

// CredentialStore yields plaintext credentials for a connection the user
// owns. Any other id fails with NotFound.
type CredentialStore interface {
	GetCredentials(ctx context.Context, userID, connectionID string) (database.Credentials, error)
}

// ConnectionStore persists saved connections with their encrypted secret.
type ConnectionStore interface {
	CredentialStore
	InsertConnection(ctx context.Context, c *Connection, password string) error
	GetConnection(ctx context.Context, userID, connectionID string) (*Connection, error)
	ListConnections(ctx context.Context, userID string) ([]Connection, error)
	UpdateConnection(ctx context.Context, c *Connection, password *string) error
	DeleteConnection(ctx context.Context, userID, connectionID string) error
	TouchConnection(ctx context.Context, userID, connectionID string, at time.Time) error
}

// HistoryStore records executed and bookmarked queries. Lookups by id are
// scoped to the owning user.
type HistoryStore interface {
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	ListQueries(ctx context.Context, userID string, f HistoryFilter) ([]QueryRecord, int, error)
	GetQuery(ctx context.Context, userID, queryID string) (*QueryRecord, error)
	DeleteQuery(ctx context.Context, userID, queryID string) error
	ToggleSaved(ctx context.Context, userID, queryID string) (*QueryRecord, error)
}

// AuditLog appends audit entries.
type AuditLog interface {
	RecordAudit(ctx context.Context, e *AuditEntry) error
}

// ConversationLog stores chat turns per user and session.
type ConversationLog interface {
	AppendTurn(ctx context.Context, t *Turn) error
	RecentTurns(ctx context.Context, userID, sessionID string, n int) ([]Turn, error)
	SessionTurns(ctx context.Context, userID, sessionID string) ([]Turn, error)
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, userID, sessionID string) (int64, error)
}
