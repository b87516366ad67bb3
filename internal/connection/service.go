// Package connection manages saved target databases: it verifies
// credentials before saving them, stores the secret encrypted, and audits
// every change.
package connection

import (
	"context"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

const resourceConnection = "connection"

// CreateRequest describes a connection to save.
type CreateRequest struct {
	Name        string
	Credentials database.Credentials
}

// UpdateRequest carries the fields to change. Nil fields keep their saved
// value; at least one must be set.
type UpdateRequest struct {
	Name     *string
	Host     *string
	Port     *int
	Database *string
	Username *string
	Password *string
	TLS      *bool
}

func (r UpdateRequest) empty() bool {
	return r.Name == nil && !r.touchesTarget()
}

// touchesTarget reports whether the update changes where or how to connect.
func (r UpdateRequest) touchesTarget() bool {
	return r.Host != nil || r.Port != nil || r.Database != nil || r.Username != nil || r.Password != nil || r.TLS != nil
}

// Service is safe for concurrent use.
type Service struct {
	gw    *database.Gateway
	conns store.ConnectionStore
	audit store.AuditLog
	log   *logger.Logger
	now   func() time.Time
}

// NewService wires the gateway and stores.
func NewService(gw *database.Gateway, conns store.ConnectionStore, audit store.AuditLog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{gw: gw, conns: conns, audit: audit, log: log, now: time.Now}
}

// Test checks credentials without saving anything.
func (s *Service) Test(ctx context.Context, creds database.Credentials) database.TestResult {
	return s.gw.TestConnection(ctx, creds)
}

// Create tests the credentials and saves the connection only if the test
// succeeds.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*store.Connection, error) {
	if req.Name == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "connection name is required")
	}
	if !s.gw.Supports(req.Credentials.Dialect) {
		return nil, errs.Newf(errs.ErrKindUnsupported, "unsupported database type: %q", string(req.Credentials.Dialect))
	}

	res := s.gw.TestConnection(ctx, req.Credentials)
	if !res.OK {
		return nil, errs.Newf(errs.ErrKindConnectionFailed, "connection failed: %s", res.Error)
	}

	now := s.now()
	creds := req.Credentials
	conn := &store.Connection{
		UserID:          userID,
		Name:            req.Name,
		Dialect:         creds.Dialect,
		Host:            creds.Host,
		Port:            creds.EffectivePort(),
		Database:        creds.Database,
		Username:        creds.Username,
		TLS:             creds.TLS,
		LastConnectedAt: &now,
	}
	if err := s.conns.InsertConnection(ctx, conn, creds.Password); err != nil {
		return nil, err
	}

	s.record(ctx, &store.AuditEntry{
		UserID:     userID,
		Action:     store.ActionCreate,
		Resource:   resourceConnection,
		ResourceID: conn.ID,
		Details: map[string]any{
			"name":   conn.Name,
			"dbType": string(conn.Dialect),
			"host":   conn.Host,
		},
	})

	s.log.Ctx(ctx).With().Str("connection_id", conn.ID).Str("target", creds.String()).Logger().Info("connection saved")
	return conn, nil
}

// List returns the user's saved connections.
func (s *Service) List(ctx context.Context, userID string) ([]store.Connection, error) {
	return s.conns.ListConnections(ctx, userID)
}

// Get returns one saved connection the user owns.
func (s *Service) Get(ctx context.Context, userID, connectionID string) (*store.Connection, error) {
	return s.conns.GetConnection(ctx, userID, connectionID)
}

// Update applies req to a connection the user owns. A change to the target
// or its credentials is tested first and nothing is saved unless the test
// succeeds; a rename alone is saved directly.
func (s *Service) Update(ctx context.Context, userID, connectionID string, req UpdateRequest) (*store.Connection, error) {
	if req.empty() {
		return nil, errs.New(errs.ErrKindInvalidInput, "nothing to update")
	}
	if req.Name != nil && *req.Name == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "connection name is required")
	}

	conn, err := s.conns.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, 7)
	set := func(field string, dst *string, v *string) {
		if v != nil {
			*dst = *v
			changed = append(changed, field)
		}
	}
	set("name", &conn.Name, req.Name)
	set("host", &conn.Host, req.Host)
	set("database", &conn.Database, req.Database)
	set("username", &conn.Username, req.Username)
	if req.Port != nil {
		conn.Port = *req.Port
		changed = append(changed, "port")
	}
	if req.TLS != nil {
		conn.TLS = *req.TLS
		changed = append(changed, "ssl")
	}
	if req.Password != nil {
		changed = append(changed, "password")
	}

	if req.touchesTarget() {
		creds, err := s.conns.GetCredentials(ctx, userID, connectionID)
		if err != nil {
			return nil, err
		}
		next := conn.Credentials(creds.Password)
		if req.Password != nil {
			next.Password = *req.Password
		}
		conn.Port = next.EffectivePort()

		res := s.gw.TestConnection(ctx, next)
		if !res.OK {
			return nil, errs.Newf(errs.ErrKindConnectionFailed, "connection failed: %s", res.Error)
		}
		now := s.now()
		conn.LastConnectedAt = &now
	}

	if err := s.conns.UpdateConnection(ctx, conn, req.Password); err != nil {
		return nil, err
	}

	s.record(ctx, &store.AuditEntry{
		UserID:     userID,
		Action:     store.ActionUpdate,
		Resource:   resourceConnection,
		ResourceID: conn.ID,
		Details:    map[string]any{"fields": changed},
	})
	s.log.Ctx(ctx).With().Str("connection_id", conn.ID).Logger().InfoWith("connection updated", map[string]interface{}{"fields": changed})
	return conn, nil
}

// Delete removes a saved connection the user owns.
func (s *Service) Delete(ctx context.Context, userID, connectionID string) error {
	if err := s.conns.DeleteConnection(ctx, userID, connectionID); err != nil {
		return err
	}
	s.record(ctx, &store.AuditEntry{
		UserID:     userID,
		Action:     store.ActionDelete,
		Resource:   resourceConnection,
		ResourceID: connectionID,
	})
	return nil
}

// GetCredentials resolves plaintext credentials for a connection the user
// owns and stamps the connection as used.
func (s *Service) GetCredentials(ctx context.Context, userID, connectionID string) (database.Credentials, error) {
	creds, err := s.conns.GetCredentials(ctx, userID, connectionID)
	if err != nil {
		return database.Credentials{}, err
	}
	if err := s.conns.TouchConnection(ctx, userID, connectionID, s.now()); err != nil {
		s.log.Ctx(ctx).WarnWith("failed to stamp connection", err, map[string]interface{}{"connection_id": connectionID})
	}
	return creds, nil
}

// record writes an audit entry. A failed audit write is logged, not returned:
// the action it describes has already happened.
func (s *Service) record(ctx context.Context, e *store.AuditEntry) {
	if err := s.audit.RecordAudit(ctx, e); err != nil {
		s.log.Ctx(ctx).ErrorWith("failed to write audit entry", err, map[string]interface{}{
			"action":   e.Action,
			"resource": e.Resource,
		})
	}
}
