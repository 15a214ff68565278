package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// PipelineStep is a single step of the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState is shared by all steps of one run.
type PipelineState struct {
	GCSURI     string
	RunID      string
	Attachment extract.Attachment
	Document   *analyzer.Document
	Result     *analyzer.AnalysisResult
}

// StartAnalysisRunStep creates the run record (status=RUNNING).
type StartAnalysisRunStep struct{ Runs RunStore }

func (s *StartAnalysisRunStep) Name() string { return "start_run" }

func (s *StartAnalysisRunStep) Execute(ctx context.Context, state *PipelineState) error {
	runID, err := s.Runs.StartAnalysisRun(ctx, state.GCSURI, state.Attachment.Filename)
	if err != nil {
		return err
	}
	state.RunID = runID
	return nil
}

// FetchAttachmentStep downloads the file from GCS.
type FetchAttachmentStep struct{ Deps Deps }

func (s *FetchAttachmentStep) Name() string { return "fetch" }

func (s *FetchAttachmentStep) Execute(ctx context.Context, state *PipelineState) error {
	obj, err := s.Deps.Fetcher.Fetch(ctx, state.GCSURI)
	if err != nil {
		return analyzer.ExtractionError("fetch", err)
	}
	state.Attachment = extract.Attachment{
		Filename: obj.Filename(),
		MIMEType: obj.ContentType,
		Data:     obj.Data,
	}
	return nil
}

// ExtractDocumentStep turns the file into a document.
type ExtractDocumentStep struct{ Extractor extract.Extractor }

func (s *ExtractDocumentStep) Name() string { return "extract" }

func (s *ExtractDocumentStep) Execute(ctx context.Context, state *PipelineState) error {
	doc, err := s.Extractor.Extract(ctx, state.Attachment)
	if err != nil {
		return err
	}
	state.Document = doc
	return nil
}

// AnalyzeStep runs the column analysis. A failed analysis is still a result;
// only registry outages stop the pipeline.
type AnalyzeStep struct{ Analyzer Analyzer }

func (s *AnalyzeStep) Name() string { return "analyze" }

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := s.Analyzer.Analyze(ctx, state.Document)
	if err != nil {
		return err
	}
	state.Result = res
	return nil
}

// StoreOracleOutputStep keeps the oracle's raw reply when Layer-2 was used.
// Storage failures are logged and do not fail the run.
type StoreOracleOutputStep struct{ Deps Deps }

func (s *StoreOracleOutputStep) Name() string { return "store_oracle_output" }

func (s *StoreOracleOutputStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Result == nil || state.Result.OracleRaw == "" {
		return nil
	}
	err := s.Deps.Runs.InsertOracleOutput(ctx, state.RunID, s.Deps.Analyzer.OracleName(), state.Result.OracleRaw)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Failed to store oracle output")
	}
	return nil
}

// FinishAnalysisRunStep records the outcome of the run.
type FinishAnalysisRunStep struct{ Runs RunStore }

func (s *FinishAnalysisRunStep) Name() string { return "finish_run" }

func (s *FinishAnalysisRunStep) Execute(ctx context.Context, state *PipelineState) error {
	return s.Runs.MarkAnalysisRunSucceeded(ctx, state.RunID, state.Result)
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
	runs  RunStore
}

// NewPipeline creates a pipeline. When runs is set, a step failure after the
// run was started marks the run as failed.
func NewPipeline(runs RunStore, steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps, runs: runs}
}

// Execute runs all steps sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			log.Error().
				Err(err).
				Str("step", step.Name()).
				Str("run_id", state.RunID).
				Msg("Pipeline step failed")
			if p.runs != nil && state.RunID != "" {
				p.runs.MarkAnalysisRunFailed(ctx, state.RunID, err)
			}
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Str("step", step.Name()).Msg("Pipeline step done")
	}
	return nil
}

// NewAnalysisPipeline creates the standard six-step pipeline for analyzing a
// stored statement.
func NewAnalysisPipeline(deps Deps) *Pipeline {
	return NewPipeline(deps.Runs,
		&StartAnalysisRunStep{Runs: deps.Runs},
		&FetchAttachmentStep{Deps: deps},
		&ExtractDocumentStep{Extractor: deps.Extractor},
		&AnalyzeStep{Analyzer: deps.Analyzer},
		&StoreOracleOutputStep{Deps: deps},
		&FinishAnalysisRunStep{Runs: deps.Runs},
	)
}
