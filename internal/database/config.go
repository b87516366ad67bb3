package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// Dialect identifies the database engine. It is a closed set: values outside
// it are rejected by ParseDialect and never reach a driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect validates s at the boundary. "postgresql" is accepted as an
// alias because stored connections use it.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", errs.Newf(errs.ErrKindUnsupported, "unsupported database type: %q", s)
	}
}

// DefaultPort returns the engine's standard port.
func (d Dialect) DefaultPort() int {
	if d == DialectMySQL {
		return 3306
	}
	return 5432
}

// UnmarshalText lets JSON and YAML decoding reject unknown dialects.
func (d *Dialect) UnmarshalText(b []byte) error {
	parsed, err := ParseDialect(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Credentials are the plaintext connection details for one target database.
// They exist only for the duration of a request; String never prints the
// password.
type Credentials struct {
	Dialect  Dialect `json:"dialect"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Database string  `json:"database"`
	Username string  `json:"username"`
	Password string  `json:"-"`
	TLS      bool    `json:"tls"`
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s://%s:***@%s:%d/%s", c.Dialect, c.Username, c.Host, c.port(), c.Database)
}

// Addr returns the effective host:port, filling in the dialect default port.
func (c Credentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

func (c Credentials) port() int {
	if c.Port == 0 {
		return c.Dialect.DefaultPort()
	}
	return c.Port
}

// EffectivePort returns Port, or the dialect default when unset.
func (c Credentials) EffectivePort() int {
	return c.port()
}

// Options tunes how sessions are opened.
type Options struct {
	// ConnectTimeout bounds establishing a session.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// QueryTimeout bounds a whole gateway call. Zero means no extra deadline
	// beyond the caller's context.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultOptions returns the timeouts used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   60 * time.Second,
	}
}
