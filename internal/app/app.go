// Package app assembles the analyzer service from configuration. Both the API
// server and the CLI build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/api"
	"github.com/dvloznov/column-analyzer/internal/config"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/gcs"
	infraBQ "github.com/dvloznov/column-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/column-analyzer/internal/infra/postgres"
	"github.com/dvloznov/column-analyzer/internal/jobs"
	"github.com/dvloznov/column-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/oracle"
	"github.com/dvloznov/column-analyzer/internal/pipeline"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

// TemplateStore is a writable template source.
type TemplateStore interface {
	templates.Source
	templates.MatchRecorder
	UpsertTemplate(ctx context.Context, t templates.Template) error
}

// App holds the wired service.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Registry  *templates.Registry
	Source    templates.Source
	Store     TemplateStore // nil for the file source
	Analyzer  *analyzer.Analyzer
	Extractor *extract.Registry

	// Ingestor, JobStore and Queue are nil unless gcs.enabled is set.
	Ingestor *pipeline.Ingestor
	JobStore *inmemory.Store
	Queue    *inmemory.Queue

	refresher *templates.Refresher
	closers   []func() error
}

// New builds every component. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	ctx = logger.WithContext(ctx, log)
	a := &App{Config: cfg, Log: log, Registry: templates.NewRegistry()}

	if err := a.initTemplateSource(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	orc, err := a.newOracle(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	opts := []analyzer.Option{analyzer.WithLogger(log)}
	if cfg.Templates.RecordMatches && a.Store != nil {
		opts = append(opts, analyzer.WithMatchRecorder(a.Store))
	}
	a.Analyzer = analyzer.New(a.Registry, orc, analyzer.Config{
		ExactConfidence:     cfg.Oracle.ExactConfidence,
		OracleTimeout:       cfg.Oracle.Timeout,
		MinOracleConfidence: cfg.Oracle.MinConfidence,
	}, opts...)

	var pdf extract.Extractor
	if cfg.Extract.LayoutURL != "" {
		pdf = extract.NewLayoutService(extract.LayoutConfig{
			URL:     cfg.Extract.LayoutURL,
			APIKey:  cfg.Extract.LayoutAPIKey,
			Model:   cfg.Extract.LayoutModel,
			Timeout: cfg.Extract.LayoutTimeout,
		})
	}
	a.Extractor = extract.Default(pdf)

	if cfg.GCS.Enabled {
		if err := a.initIngestion(ctx); err != nil {
			a.closeAll()
			return nil, err
		}
	}

	if cfg.Templates.RefreshSchedule != "" {
		r, err := templates.NewRefresher(a.Registry, a.Source, cfg.Templates.RefreshSchedule, log)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.refresher = r
	}
	return a, nil
}

func (a *App) initTemplateSource(ctx context.Context) error {
	tb, err := OpenTemplates(ctx, a.Config)
	if err != nil {
		return err
	}
	a.Source, a.Store = tb.Source, tb.Store
	a.closers = append(a.closers, tb.Close)
	return nil
}

// TemplateBackend is the configured template source, plus its writable store
// when the source is a database.
type TemplateBackend struct {
	Source templates.Source
	Store  TemplateStore

	closers []func() error
}

// OpenTemplates connects to the template source named by
// cfg.Templates.Source.
func OpenTemplates(ctx context.Context, cfg *config.Config) (*TemplateBackend, error) {
	tb := &TemplateBackend{}
	switch cfg.Templates.Source {
	case config.SourceFile:
		tb.Source = templates.NewFileSource(cfg.Templates.File)
	case config.SourceBigQuery:
		repo, err := infraBQ.NewRepository(ctx, infraBQ.Config{
			ProjectID: cfg.BigQuery.ProjectID,
			Dataset:   cfg.BigQuery.Dataset,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		tb.closers = append(tb.closers, repo.Close)
		tb.Source, tb.Store = repo, repo
	case config.SourcePostgres:
		db, err := postgres.Open(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			LogSQL:          cfg.Postgres.LogSQL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			tb.closers = append(tb.closers, sqlDB.Close)
		}
		repo := postgres.NewTemplateRepo(db)
		if cfg.Postgres.AutoMigrate {
			if err := repo.AutoMigrate(ctx); err != nil {
				_ = tb.Close()
				return nil, fmt.Errorf("app: %w", err)
			}
		}
		tb.Source, tb.Store = repo, repo
	default:
		return nil, fmt.Errorf("app: unknown template source %q", cfg.Templates.Source)
	}
	return tb, nil
}

// Close releases database clients.
func (tb *TemplateBackend) Close() error {
	var errs []error
	for i := len(tb.closers) - 1; i >= 0; i-- {
		if err := tb.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	tb.closers = nil
	return errors.Join(errs...)
}

// bigQuery returns the shared repository, creating it on first use.
func (a *App) bigQuery(ctx context.Context) (*infraBQ.Repository, error) {
	if repo, ok := a.Store.(*infraBQ.Repository); ok {
		return repo, nil
	}
	repo, err := infraBQ.NewRepository(ctx, infraBQ.Config{
		ProjectID: a.Config.BigQuery.ProjectID,
		Dataset:   a.Config.BigQuery.Dataset,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, repo.Close)
	return repo, nil
}

func (a *App) newOracle(ctx context.Context) (analyzer.Oracle, error) {
	oc := a.Config.Oracle
	prompt, err := oc.Prompt()
	if err != nil {
		return nil, err
	}
	orc, err := oracle.New(ctx, oracle.Config{
		Provider:       oc.Provider,
		Model:          oc.Model,
		Prompt:         prompt,
		GeminiAPIKey:   oc.Gemini.APIKey,
		GeminiProject:  oc.Gemini.Project,
		GeminiLocation: oc.Gemini.Location,
		OllamaURL:      oc.Ollama.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if orc == nil {
		a.Log.Warn().Msg("No oracle configured, documents without a template will fail")
	}
	return orc, nil
}

func (a *App) initIngestion(ctx context.Context) error {
	cfg := a.Config
	client, err := gcs.NewClient(ctx, cfg.GCS.MaxObjectBytes)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	deps := pipeline.Deps{Fetcher: client, Extractor: a.Extractor, Analyzer: a.Analyzer}
	if cfg.BigQuery.RecordRuns {
		repo, err := a.bigQuery(ctx)
		if err != nil {
			return err
		}
		deps.Runs = repo
	}
	in, err := pipeline.NewIngestor(deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.Ingestor = in
	a.JobStore = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.Jobs.BufferSize, a.JobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithRetryBackoff(cfg.Jobs.RetryBackoff),
	)
	return nil
}

// LoadTemplates fills the registry from the configured source.
func (a *App) LoadTemplates(ctx context.Context) (int, error) {
	return templates.Load(logger.WithContext(ctx, a.Log), a.Registry, a.Source)
}

// Start runs the template refresher and the job workers.
func (a *App) Start(ctx context.Context) error {
	if a.refresher != nil {
		a.refresher.Start()
	}
	if a.Queue != nil {
		ctx = logger.WithContext(ctx, a.Log)
		if err := a.Queue.Start(ctx, jobs.NewAnalyzeHandler(a.Ingestor)); err != nil {
			return fmt.Errorf("app: starting job queue: %w", err)
		}
	}
	return nil
}

// Router returns the HTTP handler for the API server.
func (a *App) Router() http.Handler {
	rc := api.RouterConfig{
		Analyzer:     a.Analyzer,
		Extractor:    a.Extractor,
		Templates:    a.Registry,
		APIKey:       a.Config.Server.APIKey,
		MaxBodyBytes: a.Config.Server.MaxBodyBytes,
		Log:          a.Log,
	}
	if a.Queue != nil {
		rc.Publisher = a.Queue
		rc.JobStore = a.JobStore
	}
	return api.NewRouter(rc)
}

// Close stops background work and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.refresher != nil {
		if err := a.refresher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping refresher: %w", err))
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping job queue: %w", err))
		}
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
