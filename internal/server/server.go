// Package server is the HTTP surface of InsightDB.
//
// Every route except /healthz requires the X-User-ID header; authentication
// happens in front of this process. Responses use one envelope:
//
//	{"success": true,  "message": "...", "data": ...}
//	{"success": false, "message": "...", "error": {"kind": "...", "message": "..."}}
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/programmerrush/InsightDB-api/internal/ai"
	"github.com/programmerrush/InsightDB-api/internal/connection"
	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/query"
)

// HeaderUserID carries the caller's identity.
const HeaderUserID = "X-User-ID"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Connections *connection.Service
	Gateway     *database.Gateway
	Queries     *query.Service
	Chat        *ai.Orchestrator
	Store       Pinger
	Logger      *logger.Logger
}

// Config tunes the HTTP layer.
type Config struct {
	CORSOrigins []string
	// RequestTimeout bounds every handler. Zero means none.
	RequestTimeout time.Duration
}

// Server owns the router.
type Server struct {
	conns    *connection.Service
	gw       *database.Gateway
	queries  *query.Service
	chat     *ai.Orchestrator
	store    Pinger
	log      *logger.Logger
	validate *validator.Validate
	handler  http.Handler
}

// New builds the router.
func New(d Deps, cfg Config) *Server {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		conns:    d.Connections,
		gw:       d.Gateway,
		queries:  d.Queries,
		chat:     d.Chat,
		store:    d.Store,
		log:      log.With().Str("component", "http").Logger(),
		validate: newValidator(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/connections", func(r chi.Router) {
			r.Post("/test", s.testConnection)
			r.Post("/", s.createConnection)
			r.Get("/", s.listConnections)

			r.Route("/{connectionID}", func(r chi.Router) {
				r.Get("/", s.getConnection)
				r.Put("/", s.updateConnection)
				r.Delete("/", s.deleteConnection)
				r.Get("/schemas", s.withCreds(s.listSchemas))
				r.Get("/tables", s.withCreds(s.listTables))
				r.Get("/views", s.withCreds(s.listViews))
				r.Get("/functions", s.withCreds(s.listFunctions))
				r.Get("/overview", s.withCreds(s.overview))
				r.Get("/tables/{table}/columns", s.withCreds(s.listColumns))
				r.Get("/tables/{table}/stats", s.withCreds(s.tableStats))
				r.Get("/tables/{table}/preview", s.withCreds(s.previewTable))

				r.Route("/insights", func(r chi.Router) {
					r.Get("/auto", s.withCreds(s.autoInsights))
					r.Get("/tables/{table}", s.withCreds(s.tableInsights))
					r.Get("/tables/{table}/trends", s.withCreds(s.trends))
				})
			})
		})

		r.Route("/queries", func(r chi.Router) {
			r.Post("/", s.runQuery)
			r.Post("/export", s.exportQuery)
			r.Get("/exports", s.listExports)
			r.Get("/exports/{name}", s.exportURL)
			r.Get("/history", s.history)
			r.Get("/saved", s.savedQueries)
			r.Post("/saved", s.saveQuery)
			r.Get("/{queryID}", s.getQuery)
			r.Delete("/{queryID}", s.deleteQuery)
			r.Post("/{queryID}/toggle-save", s.toggleSaved)
			r.Patch("/{queryID}/toggle-save", s.toggleSaved)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", s.sendMessage)
			r.Get("/sessions", s.listSessions)
			r.Get("/sessions/{sessionID}", s.sessionHistory)
			r.Delete("/sessions/{sessionID}", s.deleteSession)
		})
	})

	s.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", HeaderUserID},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(r)
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Ctx(r.Context()).Warnf("health check failed: %s", logger.Mask(err.Error()))
			status["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "store unavailable", Data: status})
			return
		}
	}
	ok(w, "Service is healthy", status)
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, envelope{
				Success: false,
				Message: "missing " + HeaderUserID + " header",
				Error:   &errorBody{Kind: "unauthorized", Message: "missing " + HeaderUserID + " header"},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		r = r.WithContext(logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context())))

		next.ServeHTTP(ww, r)

		s.log.Ctx(r.Context()).HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Ctx(r.Context()).ErrorWith("panic in handler", nil, map[string]interface{}{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(rec),
				})
				writeJSON(w, http.StatusInternalServerError, envelope{
					Success: false,
					Message: "internal server error",
					Error:   &errorBody{Kind: "unknown", Message: "internal server error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
