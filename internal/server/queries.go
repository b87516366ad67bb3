package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/programmerrush/InsightDB-api/internal/query"
)

const defaultQueryTitle = "Untitled Query"

type runQueryRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	SQL          string `json:"sql" validate:"required,min=1,max=50000"`
	Title        string `json:"title" validate:"max=200"`
}

func (q runQueryRequest) run(userID string) query.RunRequest {
	title := q.Title
	if title == "" {
		title = defaultQueryTitle
	}
	return query.RunRequest{UserID: userID, ConnectionID: q.ConnectionID, SQL: q.SQL, Title: title}
}

type exportQueryRequest struct {
	runQueryRequest
	Format string `json:"format" validate:"omitempty,oneof=csv json"`
}

type saveQueryRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	SQL          string `json:"sql" validate:"required,min=1,max=50000"`
	Title        string `json:"title" validate:"required,min=1,max=200"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	var req runQueryRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.queries.Run(r.Context(), req.run(userID(r)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Query executed successfully", res)
}

func (s *Server) exportQuery(w http.ResponseWriter, r *http.Request) {
	var req exportQueryRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	format, err := query.ParseFormat(req.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exp, err := s.queries.Export(r.Context(), query.ExportRequest{RunRequest: req.run(userID(r)), Format: format})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, "Export created", exp)
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	list, err := s.queries.Exports(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", list)
}

func (s *Server) exportURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.queries.ExportURL(r.Context(), userID(r), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", map[string]string{"url": url})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hp, err := s.queries.History(r.Context(), userID(r), r.URL.Query().Get("connectionId"), page, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Message:    "Success",
		Data:       hp.Queries,
		Pagination: newPagination(hp.Page, hp.Limit, hp.Total),
	})
}

func (s *Server) savedQueries(w http.ResponseWriter, r *http.Request) {
	list, err := s.queries.Saved(r.Context(), userID(r), r.URL.Query().Get("connectionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", list)
}

func (s *Server) saveQuery(w http.ResponseWriter, r *http.Request) {
	var req saveQueryRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.queries.Save(r.Context(), query.SaveRequest{
		UserID:       userID(r),
		ConnectionID: req.ConnectionID,
		SQL:          req.SQL,
		Title:        req.Title,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, "Query saved", rec)
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.queries.Get(r.Context(), userID(r), chi.URLParam(r, "queryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Success", rec)
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.Delete(r.Context(), userID(r), chi.URLParam(r, "queryID")); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Query deleted", nil)
}

func (s *Server) toggleSaved(w http.ResponseWriter, r *http.Request) {
	rec, err := s.queries.ToggleSaved(r.Context(), userID(r), chi.URLParam(r, "queryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "Query unsaved"
	if rec.Saved {
		msg = "Query saved"
	}
	ok(w, msg, rec)
}
