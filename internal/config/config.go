// Package config loads the InsightDB process configuration from a YAML file
// and the environment.
//
// Precedence is defaults, then file, then environment. Every section reuses
// the Config type of the package it configures.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/programmerrush/InsightDB-api/internal/ai"
	"github.com/programmerrush/InsightDB-api/internal/ai/openai"
	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
	"github.com/programmerrush/InsightDB-api/internal/filestore"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
	"github.com/programmerrush/InsightDB-api/internal/secret"
)

// Config is the whole process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        logger.Config    `yaml:"log"`
	Encryption secret.KeySource `yaml:"encryption"`
	Store      StoreConfig      `yaml:"store"`
	Database   database.Options `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Schema     schemactx.Config `yaml:"schema"`
	Export     filestore.Config `yaml:"export"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AIConfig groups the model endpoint and the chat tuning.
type AIConfig struct {
	openai.Config `yaml:",inline"`
	Chat          ai.Config `yaml:"chat"`
}

// Default returns a configuration that runs locally with no object storage
// and no model key.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:        *logger.DefaultConfig(),
		Encryption: secret.KeySource{Source: "env", EnvVar: "ENCRYPTION_KEY"},
		Store:      StoreConfig{Path: "insightdb.db"},
		Database:   database.DefaultOptions(),
		AI: AIConfig{
			Config: openai.DefaultConfig(),
			Chat:   ai.DefaultConfig(),
		},
		Schema: schemactx.DefaultConfig(),
		Export: *filestore.DefaultConfig("", "", ""),
	}
}

// Load reads path (optional) over the defaults, applies the environment and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, errs.Wrap(errs.ErrKindNotFound, "config file not found", err)
			}
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindFormat, "failed to parse config file", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, name+" is not a duration", err)
		}
		*dst = d
		return nil
	}

	str("INSIGHTDB_ADDR", &c.Server.Addr)
	if v, ok := lookup("INSIGHTDB_CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	str("INSIGHTDB_LOG_LEVEL", &c.Log.Level)
	str("INSIGHTDB_LOG_FORMAT", &c.Log.Format)
	str("INSIGHTDB_DB_PATH", &c.Store.Path)
	str("INSIGHTDB_KEY_SOURCE", &c.Encryption.Source)
	str("INSIGHTDB_KEYRING_DIR", &c.Encryption.FileDir)
	str("ENCRYPTION_KEY", &c.Encryption.Key)

	str("OPENAI_API_KEY", &c.AI.APIKey)
	str("OPENAI_BASE_URL", &c.AI.BaseURL)
	str("OPENAI_MODEL", &c.AI.Model)

	str("MINIO_ENDPOINT", &c.Export.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Export.AccessKey)
	str("MINIO_SECRET_KEY", &c.Export.SecretKey)
	str("MINIO_BUCKET", &c.Export.Bucket)
	if v, ok := lookup("MINIO_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "MINIO_USE_SSL is not a boolean", err)
		}
		c.Export.UseSSL = b
	}

	if err := dur("INSIGHTDB_CONNECT_TIMEOUT", &c.Database.ConnectTimeout); err != nil {
		return err
	}
	return dur("INSIGHTDB_QUERY_TIMEOUT", &c.Database.QueryTimeout)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Store.Path == "" {
		add("store.path is required")
	}
	switch c.Encryption.Source {
	case "", "env", "keyring":
	default:
		add("encryption.source must be env or keyring, got %q", c.Encryption.Source)
	}
	if c.Encryption.Key != "" {
		if _, err := secret.ParseKey(c.Encryption.Key); err != nil {
			add("encryption.key: %v", err)
		}
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Database.ConnectTimeout <= 0 {
		add("database.connect_timeout must be positive")
	}
	if c.Database.QueryTimeout < 0 {
		add("database.query_timeout must not be negative")
	}
	if c.AI.APIKey != "" && c.AI.BaseURL == "" {
		add("ai.base_url is required when an api key is set")
	}
	if c.AI.RequestsPerSecond < 0 {
		add("ai.requests_per_second must not be negative")
	}
	if c.AI.Chat.MaxRetries < 0 {
		add("ai.chat.max_retries must not be negative")
	}
	if c.AI.Chat.Deadline <= 0 {
		add("ai.chat.deadline must be positive")
	}
	if c.AI.Chat.RowCap <= 0 {
		add("ai.chat.row_cap must be positive")
	}
	if c.Schema.SummaryCap <= 0 {
		add("schema.summary_cap must be positive")
	}
	if c.Schema.DetailCap < 1 || c.Schema.DetailCap > c.Schema.SummaryCap {
		add("schema.detail_cap must be between 1 and summary_cap (%d), got %d", c.Schema.SummaryCap, c.Schema.DetailCap)
	}
	if c.Export.Enabled() {
		if c.Export.Bucket == "" {
			add("export.bucket is required when an endpoint is set")
		}
		if c.Export.PresignTTL <= 0 || c.Export.PresignTTL > 7*24*time.Hour {
			add("export.presign_ttl must be between 0 and 7 days")
		}
	}

	if len(problems) > 0 {
		return errs.New(errs.ErrKindInvalidInput, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// ChatEnabled reports whether a model key is configured.
func (c *Config) ChatEnabled() bool {
	return c.AI.APIKey != ""
}
