// Package schemactx samples a target database's catalog into the compact
// summary the assistant is grounded on. It never reads data rows.
package schemactx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/logger"
)

// Config bounds how much of the catalog is sampled.
type Config struct {
	// SummaryCap is the number of tables listed.
	SummaryCap int `yaml:"summary_cap"`

	// DetailCap is the number of listed tables whose columns are fetched.
	DetailCap int `yaml:"detail_cap"`

	// TableTimeout bounds each per-table column fetch.
	TableTimeout time.Duration `yaml:"table_timeout"`

	// Parallelism caps concurrent column fetches.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns the caps used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SummaryCap:   20,
		DetailCap:    8,
		TableTimeout: 5 * time.Second,
		Parallelism:  4,
	}
}

// Source is the part of the gateway the builder reads from.
type Source interface {
	ListTables(ctx context.Context, creds database.Credentials, schema string) ([]database.Table, error)
	ListColumns(ctx context.Context, creds database.Credentials, schema, table string) ([]database.Column, error)
}

// Table summarises one table. Columns is nil for tables outside the detail
// cap and empty when fetching them failed.
type Table struct {
	Name          string            `json:"name"`
	EstimatedRows int64             `json:"estimatedRows"`
	Size          string            `json:"size"`
	Columns       []database.Column `json:"columns,omitempty"`
}

// Context is the sampled catalog of one connection. When the table listing
// fails only Err is set.
type Context struct {
	Dialect    database.Dialect `json:"dialect"`
	Database   string           `json:"database"`
	TableCount int              `json:"tableCount"`
	Tables     []Table          `json:"tables"`
	Err        error            `json:"-"`
}

// Builder builds a Context per chat turn.
type Builder struct {
	src Source
	cfg Config
	log *logger.Logger
}

// NewBuilder returns a Builder. Zero config fields take their defaults.
func NewBuilder(src Source, cfg Config, log *logger.Logger) *Builder {
	def := DefaultConfig()
	if cfg.SummaryCap <= 0 {
		cfg.SummaryCap = def.SummaryCap
	}
	if cfg.DetailCap <= 0 {
		cfg.DetailCap = def.DetailCap
	}
	if cfg.DetailCap > cfg.SummaryCap {
		cfg.DetailCap = cfg.SummaryCap
	}
	if cfg.TableTimeout <= 0 {
		cfg.TableTimeout = def.TableTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{src: src, cfg: cfg, log: log}
}

// Build samples the catalog reachable with creds. It does not fail: a
// listing error is carried in Context.Err and a failing table keeps its slot
// with an empty column list.
func (b *Builder) Build(ctx context.Context, creds database.Credentials) *Context {
	out := &Context{Dialect: creds.Dialect, Database: creds.Database}

	tables, err := b.src.ListTables(ctx, creds, "")
	if err != nil {
		b.log.Ctx(ctx).WarnWith("schema context unavailable", err, map[string]interface{}{
			"target": creds.String(),
		})
		out.Err = err
		return out
	}

	out.TableCount = len(tables)
	if len(tables) > b.cfg.SummaryCap {
		tables = tables[:b.cfg.SummaryCap]
	}
	out.Tables = make([]Table, len(tables))
	for i, t := range tables {
		out.Tables[i] = Table{Name: t.Name, EstimatedRows: t.EstimatedRows, Size: t.Size}
	}

	detail := b.cfg.DetailCap
	if detail > len(out.Tables) {
		detail = len(out.Tables)
	}

	var g errgroup.Group
	g.SetLimit(b.cfg.Parallelism)
	for i := 0; i < detail; i++ {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, b.cfg.TableTimeout)
			defer cancel()

			name := out.Tables[i].Name
			cols, err := b.src.ListColumns(tctx, creds, "", name)
			if err != nil {
				b.log.Ctx(ctx).WarnWith("failed to fetch columns", err, map[string]interface{}{
					"table": name,
				})
				cols = []database.Column{}
			}
			out.Tables[i].Columns = cols
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// Describe renders c as the compact listing used in the system prompt.
func (c *Context) Describe() string {
	if c == nil {
		return "No database is connected."
	}
	if c.Err != nil {
		return fmt.Sprintf("The %s database %q is connected but its schema could not be read: %s",
			c.Dialect, c.Database, logger.Mask(c.Err.Error()))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Connected to %s database %q with %d tables", c.Dialect, c.Database, c.TableCount)
	if len(c.Tables) < c.TableCount {
		fmt.Fprintf(&sb, " (first %d listed)", len(c.Tables))
	}
	sb.WriteString(".\n")

	for _, t := range c.Tables {
		fmt.Fprintf(&sb, "- %s (~%d rows, %s)", t.Name, t.EstimatedRows, t.Size)
		if len(t.Columns) > 0 {
			parts := make([]string, len(t.Columns))
			for i, col := range t.Columns {
				parts[i] = describeColumn(col)
			}
			sb.WriteString(": ")
			sb.WriteString(strings.Join(parts, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Table returns the summary named name, case-insensitively.
func (c *Context) Table(name string) (Table, bool) {
	if c == nil {
		return Table{}, false
	}
	for _, t := range c.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

func describeColumn(col database.Column) string {
	s := col.Name + " " + col.DataType
	if col.KeyRole != database.KeyNone {
		s += " " + string(col.KeyRole)
	}
	if col.Nullable {
		s += " NULL"
	}
	return s
}
