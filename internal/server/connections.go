package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/programmerrush/InsightDB-api/internal/connection"
	"github.com/programmerrush/InsightDB-api/internal/database"
)

type credentialsRequest struct {
	DBType   string `json:"dbType" validate:"required,oneof=postgresql postgres mysql"`
	Host     string `json:"host" validate:"required,max=255"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Database string `json:"database" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	SSL      bool   `json:"ssl"`
}

func (c credentialsRequest) credentials() (database.Credentials, error) {
	d, err := database.ParseDialect(c.DBType)
	if err != nil {
		return database.Credentials{}, err
	}
	return database.Credentials{
		Dialect:  d,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Username: c.Username,
		Password: c.Password,
		TLS:      c.SSL,
	}, nil
}

type createConnectionRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
	credentialsRequest
}

// updateConnectionRequest fields are optional; the dialect of a saved
// connection cannot change.
type updateConnectionRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Host     *string `json:"host" validate:"omitempty,min=1,max=255"`
	Port     *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Database *string `json:"database" validate:"omitempty,min=1"`
	Username *string `json:"username" validate:"omitempty,min=1"`
	Password *string `json:"password" validate:"omitempty,min=1"`
	SSL      *bool   `json:"ssl"`
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	creds, err := req.credentials()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := s.conns.Test(r.Context(), creds)
	msg := "Connection successful"
	if !res.OK {
		msg = "Connection failed"
	}
	ok(w, msg, res)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	creds, err := req.credentials()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.conns.Create(r.Context(), userID(r), connection.CreateRequest{Name: req.Name, Credentials: creds})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, "Connection created", conn)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	list, err := s.conns.List(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", list)
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.conns.Get(r.Context(), userID(r), chi.URLParam(r, "connectionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", conn)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	var req updateConnectionRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.conns.Update(r.Context(), userID(r), chi.URLParam(r, "connectionID"), connection.UpdateRequest{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		Username: req.Username,
		Password: req.Password,
		TLS:      req.SSL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Connection updated", conn)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.conns.Delete(r.Context(), userID(r), chi.URLParam(r, "connectionID")); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Connection deleted", nil)
}

// withCreds resolves the connection in the path for the calling user and
// runs fn with its credentials and the optional ?schema= parameter.
func (s *Server) withCreds(fn func(r *http.Request, creds database.Credentials, schema string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := s.conns.GetCredentials(r.Context(), userID(r), chi.URLParam(r, "connectionID"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data, err := fn(r, creds, r.URL.Query().Get("schema"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ok(w, "Success", data)
	}
}

func (s *Server) listSchemas(r *http.Request, creds database.Credentials, _ string) (any, error) {
	return s.gw.ListSchemas(r.Context(), creds)
}

func (s *Server) listTables(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.ListTables(r.Context(), creds, schema)
}

func (s *Server) listViews(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.ListViews(r.Context(), creds, schema)
}

func (s *Server) listFunctions(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.ListFunctions(r.Context(), creds, schema)
}

func (s *Server) overview(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.Overview(r.Context(), creds, schema)
}

func (s *Server) listColumns(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.ListColumns(r.Context(), creds, schema, chi.URLParam(r, "table"))
}

func (s *Server) tableStats(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.TableStats(r.Context(), creds, schema, chi.URLParam(r, "table"))
}

func (s *Server) previewTable(r *http.Request, creds database.Credentials, schema string) (any, error) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		return nil, err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	return s.gw.PreviewTable(r.Context(), creds, schema, chi.URLParam(r, "table"), limit, offset)
}
