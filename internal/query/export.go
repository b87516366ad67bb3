package query

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/filestore"
	"github.com/programmerrush/InsightDB-api/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts csv and json, case-insensitively. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", errs.Newf(errs.ErrKindInvalidInput, "unsupported export format: %q", s)
	}
}

func (f Format) contentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// ExportRequest runs a statement and stores its result as a file.
type ExportRequest struct {
	RunRequest
	Format Format
}

// Export describes a stored result file.
type Export struct {
	QueryID   string    `json:"queryId"`
	Key       string    `json:"key"`
	Format    Format    `json:"format"`
	Size      int64     `json:"size"`
	RowCount  int64     `json:"rowCount"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportsEnabled reports whether an object store is configured.
func (s *Service) ExportsEnabled() bool {
	return s.files != nil && s.bucket != ""
}

// Export runs req like Run, uploads the materialized result and returns a
// time-limited download link.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*Export, error) {
	if !s.ExportsEnabled() {
		return nil, errs.New(errs.ErrKindUnsupported, "exports are not configured")
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, err
	}

	res, err := s.Run(ctx, req.RunRequest)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if format == FormatJSON {
		err = json.NewEncoder(&buf).Encode(res.Rows)
	} else {
		err = writeCSV(&buf, res.Columns, res.Rows)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindFormat, "failed to encode export", err)
	}

	key := exportKey(req.UserID, res.QueryID, format)
	size := int64(buf.Len())
	if _, err := s.files.PutObject(ctx, s.bucket, key, &buf, size, format.contentType()); err != nil {
		return nil, err
	}
	link, err := s.files.PresignGetURL(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return nil, err
	}

	s.record(ctx, &store.AuditEntry{
		UserID:     req.UserID,
		Action:     store.ActionExport,
		Resource:   resourceQuery,
		ResourceID: res.QueryID,
		Details: map[string]any{
			"format": string(format),
			"key":    key,
			"rows":   res.RowCount,
		},
	})

	return &Export{
		QueryID:   res.QueryID,
		Key:       key,
		Format:    format,
		Size:      size,
		RowCount:  res.RowCount,
		URL:       link,
		ExpiresAt: time.Now().Add(s.ttl).UTC(),
	}, nil
}

// Exports lists the user's stored result files.
func (s *Service) Exports(ctx context.Context, userID string) ([]filestore.ObjectInfo, error) {
	if !s.ExportsEnabled() {
		return nil, errs.New(errs.ErrKindUnsupported, "exports are not configured")
	}
	return s.files.ListObjects(ctx, s.bucket, filestore.ListOptions{Prefix: exportPrefix(userID)})
}

// ExportURL issues a fresh download link for one of the user's exports.
func (s *Service) ExportURL(ctx context.Context, userID, name string) (string, error) {
	if !s.ExportsEnabled() {
		return "", errs.New(errs.ErrKindUnsupported, "exports are not configured")
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", errs.New(errs.ErrKindInvalidInput, "invalid export name")
	}
	key := exportPrefix(userID) + name
	if _, err := s.files.StatObject(ctx, s.bucket, key); err != nil {
		return "", err
	}
	return s.files.PresignGetURL(ctx, s.bucket, key, s.ttl)
}

func exportPrefix(userID string) string {
	return "exports/" + url.PathEscape(userID) + "/"
}

func exportKey(userID, queryID string, f Format) string {
	return exportPrefix(userID) + queryID + "." + string(f)
}

func writeCSV(buf *bytes.Buffer, cols []database.ColumnMeta, rows []map[string]any) error {
	w := csv.NewWriter(buf)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		return err
	}

	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = cell(row[c.Name])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
