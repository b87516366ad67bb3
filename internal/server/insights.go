package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/programmerrush/InsightDB-api/internal/database"
)

func (s *Server) autoInsights(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.AutoInsights(r.Context(), creds, schema)
}

func (s *Server) tableInsights(r *http.Request, creds database.Credentials, schema string) (any, error) {
	return s.gw.TableInsights(r.Context(), creds, schema, chi.URLParam(r, "table"))
}

// trends reads ?dateColumn= (required), ?valueColumn= and ?groupBy=
// (day, week, month, quarter or year; month when absent).
func (s *Server) trends(r *http.Request, creds database.Credentials, schema string) (any, error) {
	q := r.URL.Query()
	period, err := database.ParsePeriod(q.Get("groupBy"))
	if err != nil {
		return nil, err
	}
	return s.gw.Trends(r.Context(), creds, schema, chi.URLParam(r, "table"), database.TrendRequest{
		DateColumn:  q.Get("dateColumn"),
		ValueColumn: q.Get("valueColumn"),
		Period:      period,
	})
}
