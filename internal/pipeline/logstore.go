package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// LogRunStore records runs in the log only. It is used when no BigQuery
// project is configured.
type LogRunStore struct{}

func (LogRunStore) StartAnalysisRun(ctx context.Context, sourceURI, filename string) (string, error) {
	runID := uuid.NewString()
	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", runID).Str("filename", filename).Msg("Analysis run started")
	return runID, nil
}

func (LogRunStore) MarkAnalysisRunSucceeded(ctx context.Context, runID string, res *analyzer.AnalysisResult) error {
	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", runID).Bool("success", res != nil && res.Success).Msg("Analysis run finished")
	return nil
}

func (LogRunStore) MarkAnalysisRunFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)
	log.Warn().Err(runErr).Str("run_id", runID).Msg("Analysis run failed")
}

func (LogRunStore) InsertOracleOutput(ctx context.Context, runID, oracleName, raw string) error {
	log := logger.FromContext(ctx)
	log.Debug().Str("run_id", runID).Str("oracle", oracleName).Int("bytes", len(raw)).Msg("Oracle output received")
	return nil
}
