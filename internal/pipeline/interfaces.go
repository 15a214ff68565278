package pipeline

import (
	"context"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/gcs"
)

// RunStore records analysis runs and raw oracle replies.
type RunStore interface {
	StartAnalysisRun(ctx context.Context, sourceURI, filename string) (string, error)
	MarkAnalysisRunSucceeded(ctx context.Context, runID string, res *analyzer.AnalysisResult) error
	MarkAnalysisRunFailed(ctx context.Context, runID string, runErr error)
	InsertOracleOutput(ctx context.Context, runID, oracleName, raw string) error
}

// Analyzer maps a document's columns.
type Analyzer interface {
	Analyze(ctx context.Context, doc *analyzer.Document) (*analyzer.AnalysisResult, error)
	OracleName() string
}

// Deps are the collaborators of the ingestion pipeline.
type Deps struct {
	Runs      RunStore
	Fetcher   gcs.Fetcher
	Extractor extract.Extractor
	Analyzer  Analyzer
}
