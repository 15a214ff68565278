// Package pipeline analyzes statements stored in GCS and records each run.
package pipeline

import (
	"context"
	"errors"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/gcs"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// Ingestor runs the analysis pipeline for one GCS URI at a time. It is safe
// for concurrent use; each call gets its own state.
type Ingestor struct {
	deps     Deps
	pipeline *Pipeline
}

func NewIngestor(deps Deps) (*Ingestor, error) {
	if deps.Fetcher == nil || deps.Extractor == nil || deps.Analyzer == nil {
		return nil, errors.New("NewIngestor: fetcher, extractor and analyzer are required")
	}
	if deps.Runs == nil {
		deps.Runs = LogRunStore{}
	}
	return &Ingestor{deps: deps, pipeline: NewAnalysisPipeline(deps)}, nil
}

// AnalyzeFromGCS fetches, extracts and analyzes the file at gcsURI. Fetch
// and extraction failures come back as failed results, like any other
// analysis failure; the error is reserved for registry outages and run
// bookkeeping failures.
func (in *Ingestor) AnalyzeFromGCS(ctx context.Context, gcsURI string) (*analyzer.AnalysisResult, string, error) {
	log := logger.FromContext(ctx).With().Str("gcs_uri", gcsURI).Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{GCSURI: gcsURI}
	state.Attachment.Filename = gcs.FilenameFromURI(gcsURI)

	if err := in.pipeline.Execute(ctx, state); err != nil {
		var aerr *analyzer.Error
		if errors.As(err, &aerr) && (aerr.Kind == analyzer.KindExtraction || aerr.Kind == analyzer.KindInput) {
			return analyzer.Failure(aerr), state.RunID, nil
		}
		return nil, state.RunID, err
	}
	log.Info().
		Str("run_id", state.RunID).
		Bool("success", state.Result.Success).
		Msg("Statement analyzed")
	return state.Result, state.RunID, nil
}
