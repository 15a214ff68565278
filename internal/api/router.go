// Package api wires the HTTP handlers and middleware into one router.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/column-analyzer/internal/api/handlers"
	"github.com/dvloznov/column-analyzer/internal/api/middleware"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/jobs"
)

// RouterConfig carries everything the routes need. Publisher and JobStore
// may be nil, in which case the job routes are not registered.
type RouterConfig struct {
	Analyzer  handlers.Analyzer
	Extractor extract.Extractor
	Templates handlers.TemplateLister
	Publisher jobs.Publisher
	JobStore  jobs.JobStore

	APIKey       string
	MaxBodyBytes int64
	Log          zerolog.Logger
}

// NewRouter returns the fully wrapped HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	analyze := handlers.NewAnalyzeHandler(cfg.Analyzer, cfg.Extractor, cfg.MaxBodyBytes)
	tpls := handlers.NewTemplatesHandler(cfg.Templates)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", analyze.Health)
	mux.HandleFunc("POST /api/analyze/table", analyze.AnalyzeTable)
	mux.HandleFunc("POST /api/analyze/file", analyze.AnalyzeFile)
	mux.HandleFunc("GET /api/templates", tpls.ListTemplates)

	if cfg.Publisher != nil && cfg.JobStore != nil {
		jh := handlers.NewJobsHandler(cfg.Publisher, cfg.JobStore)
		mux.HandleFunc("POST /api/analyze/gcs", jh.EnqueueAnalysis)
		mux.HandleFunc("GET /api/jobs", jh.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jh.GetJob)
	}

	return middleware.Chain(mux,
		middleware.Recovery(cfg.Log),
		middleware.RequestID,
		middleware.Logger(cfg.Log),
		middleware.CORS,
		middleware.Auth(cfg.APIKey),
		middleware.MaxBodySize(cfg.MaxBodyBytes),
	)
}
