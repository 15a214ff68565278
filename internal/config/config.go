// Package config loads service configuration from an optional YAML file and
// COLUMN_ANALYZER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// COLUMN_ANALYZER_ORACLE_PROVIDER.
const EnvPrefix = "COLUMN_ANALYZER"

// Template sources.
const (
	SourceFile     = "file"
	SourceBigQuery = "bigquery"
	SourcePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Templates TemplatesConfig `mapstructure:"templates"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIKey          string        `mapstructure:"api_key"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OracleConfig selects the Layer-2 backend and its thresholds.
type OracleConfig struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
	ExactConfidence float64       `mapstructure:"exact_confidence"`
	// PromptFile replaces the built-in instruction prompt when set.
	PromptFile string `mapstructure:"prompt_file"`

	Gemini GeminiConfig `mapstructure:"gemini"`
	Ollama OllamaConfig `mapstructure:"ollama"`
}

type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
}

type OllamaConfig struct {
	URL string `mapstructure:"url"`
}

type TemplatesConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
	// RefreshSchedule is a cron spec; empty disables periodic reloads.
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	// RecordMatches persists match counts to the template store.
	RecordMatches bool `mapstructure:"record_matches"`
}

type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
	// RecordRuns stores analysis runs and oracle replies for GCS jobs.
	RecordRuns bool `mapstructure:"record_runs"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogSQL          bool          `mapstructure:"log_sql"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ExtractConfig points PDF extraction at a layout service. Without a URL
// PDFs are passed to the oracle as attachments.
type ExtractConfig struct {
	LayoutURL     string        `mapstructure:"layout_url"`
	LayoutAPIKey  string        `mapstructure:"layout_api_key"`
	LayoutModel   string        `mapstructure:"layout_model"`
	LayoutTimeout time.Duration `mapstructure:"layout_timeout"`
}

type GCSConfig struct {
	Enabled        bool  `mapstructure:"enabled"`
	MaxObjectBytes int64 `mapstructure:"max_object_bytes"`
}

type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	BufferSize   int           `mapstructure:"buffer_size"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_body_bytes", 32<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("oracle.provider", "gemini")
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.min_confidence", 0.7)
	v.SetDefault("oracle.exact_confidence", 1.0)
	v.SetDefault("oracle.prompt_file", "")
	v.SetDefault("oracle.gemini.api_key", "")
	v.SetDefault("oracle.gemini.project", "")
	v.SetDefault("oracle.gemini.location", "")
	v.SetDefault("oracle.ollama.url", "")

	v.SetDefault("templates.source", SourceFile)
	v.SetDefault("templates.file", "configs/templates.yaml")
	v.SetDefault("templates.refresh_schedule", "@every 5m")
	v.SetDefault("templates.record_matches", false)

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "column_analyzer")
	v.SetDefault("bigquery.record_runs", false)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.log_sql", false)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("extract.layout_url", "")
	v.SetDefault("extract.layout_api_key", "")
	v.SetDefault("extract.layout_model", "")
	v.SetDefault("extract.layout_timeout", 120*time.Second)

	v.SetDefault("gcs.enabled", false)
	v.SetDefault("gcs.max_object_bytes", 32<<20)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.buffer_size", 100)
	v.SetDefault("jobs.retry_backoff", 5*time.Second)
}

// New returns a viper instance with defaults and environment bindings but no
// config file. Commands bind their flags onto it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) on top of the defaults and environment.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.Templates.Source {
	case SourceFile:
		if c.Templates.File == "" {
			errs = append(errs, errors.New("templates.file is required for the file source"))
		}
	case SourceBigQuery:
		if c.BigQuery.ProjectID == "" {
			errs = append(errs, errors.New("bigquery.project_id is required for the bigquery source"))
		}
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("templates.source %q is not one of file, bigquery, postgres", c.Templates.Source))
	}

	if c.BigQuery.RecordRuns && c.BigQuery.ProjectID == "" {
		errs = append(errs, errors.New("bigquery.project_id is required when bigquery.record_runs is set"))
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("oracle.min_confidence %v is outside [0,1]", c.Oracle.MinConfidence))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be at least 1"))
	}
	if c.Jobs.BufferSize < 0 {
		errs = append(errs, errors.New("jobs.buffer_size must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Prompt returns the oracle prompt override, or "" to use the built-in one.
func (c OracleConfig) Prompt() (string, error) {
	if c.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return "", fmt.Errorf("config: reading prompt file: %w", err)
	}
	return string(data), nil
}
