package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/logger"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
	Error      *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) *pagination {
	p := &pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return p
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg, Data: data})
}

func created(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: msg, Data: data})
}

// fail writes err with the status its kind maps to. Messages of unclassified
// errors are not shown to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	kind := errs.KindOf(err)

	msg := "internal server error"
	var e *errs.Error
	if errors.As(err, &e) && kind != errs.ErrKindUnknown {
		msg = logger.Mask(e.Message)
	}

	log := s.log.Ctx(r.Context())
	fields := map[string]interface{}{"status": status, "kind": kind.String(), "path": r.URL.Path}
	if status >= http.StatusInternalServerError {
		log.ErrorWith("request failed", err, fields)
	} else {
		log.WarnWith("request rejected", err, fields)
	}

	writeJSON(w, status, envelope{
		Success: false,
		Message: msg,
		Error:   &errorBody{Kind: kind.String(), Message: msg},
	})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.ErrKindInvalidInput, "request body is required")
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "malformed JSON body", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, describeField(fe))
			}
			return errs.New(errs.ErrKindInvalidInput, "validation failed: "+strings.Join(parts, "; "))
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "validation failed", err)
	}
	return nil
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "uuid":
		return fe.Field() + " must be a UUID"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}

// intParam reads an integer query parameter, returning def when absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must be an integer", name)
	}
	return n, nil
}
