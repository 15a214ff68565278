package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// Run statuses.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCESS"
	StatusFailed    = "FAILED"
)

const maxErrorMessageLen = 2000

// AnalysisRunRow is one row of analysis_runs.
type AnalysisRunRow struct {
	RunID     string `bigquery:"run_id"`     // REQUIRED
	SourceURI string `bigquery:"source_uri"` // REQUIRED
	Filename  string `bigquery:"filename"`   // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string               `bigquery:"status"`        // REQUIRED
	MatchLayer   bigquery.NullString  `bigquery:"match_layer"`   // NULLABLE
	TemplateID   bigquery.NullString  `bigquery:"template_id"`   // NULLABLE
	Method       bigquery.NullString  `bigquery:"method"`        // NULLABLE
	Confidence   bigquery.NullFloat64 `bigquery:"confidence"`    // NULLABLE
	ErrorKind    bigquery.NullString  `bigquery:"error_kind"`    // NULLABLE
	ErrorMessage bigquery.NullString  `bigquery:"error_message"` // NULLABLE

	Result bigquery.NullJSON `bigquery:"result"` // NULLABLE
}

// OracleOutputRow is one row of oracle_outputs.
type OracleOutputRow struct {
	OutputID   string            `bigquery:"output_id"`   // REQUIRED
	RunID      string            `bigquery:"run_id"`      // REQUIRED
	OracleName string            `bigquery:"oracle_name"` // REQUIRED
	RawJSON    bigquery.NullJSON `bigquery:"raw_json"`    // REQUIRED (JSON)
	CreatedTS  time.Time         `bigquery:"created_ts"`  // REQUIRED
}

// StartAnalysisRun inserts a RUNNING row and returns the generated run id.
func (r *Repository) StartAnalysisRun(ctx context.Context, sourceURI, filename string) (string, error) {
	runID := uuid.NewString()
	_, err := r.exec(ctx, "StartAnalysisRun", fmt.Sprintf(`
		INSERT %s (run_id, source_uri, filename, started_ts, status)
		VALUES (@run_id, @source_uri, @filename, @started_ts, @status)
	`, r.table(analysisRunsTable)), []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "source_uri", Value: sourceURI},
		{Name: "filename", Value: filename},
		{Name: "started_ts", Value: time.Now().UTC()},
		{Name: "status", Value: StatusRunning},
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// MarkAnalysisRunSucceeded records the outcome of a finished analysis. A
// result with success=false is still a completed run; its error is stored.
func (r *Repository) MarkAnalysisRunSucceeded(ctx context.Context, runID string, res *analyzer.AnalysisResult) error {
	row, err := finishedRow(runID, res)
	if err != nil {
		return fmt.Errorf("MarkAnalysisRunSucceeded: %w", err)
	}
	_, err = r.exec(ctx, "MarkAnalysisRunSucceeded", fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    match_layer = @match_layer,
		    template_id = @template_id,
		    method = @method,
		    confidence = @confidence,
		    error_kind = @error_kind,
		    error_message = @error_message,
		    result = PARSE_JSON(@result)
		WHERE run_id = @run_id
	`, r.table(analysisRunsTable)), []bigquery.QueryParameter{
		{Name: "status", Value: row.Status},
		{Name: "finished_ts", Value: row.FinishedTS},
		{Name: "match_layer", Value: row.MatchLayer},
		{Name: "template_id", Value: row.TemplateID},
		{Name: "method", Value: row.Method},
		{Name: "confidence", Value: row.Confidence},
		{Name: "error_kind", Value: row.ErrorKind},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "result", Value: row.Result.JSONVal},
		{Name: "run_id", Value: runID},
	})
	return err
}

// MarkAnalysisRunFailed sets status=FAILED. Failures here are only logged so
// they never hide the error that ended the run.
func (r *Repository) MarkAnalysisRunFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)

	_, err := r.exec(ctx, "MarkAnalysisRunFailed", fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_kind = @error_kind,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.table(analysisRunsTable)), []bigquery.QueryParameter{
		{Name: "status", Value: StatusFailed},
		{Name: "finished_ts", Value: time.Now().UTC()},
		{Name: "error_kind", Value: string(analyzer.KindOf(runErr))},
		{Name: "error_message", Value: errorMessage(runErr)},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkAnalysisRunFailed: update failed")
	}
}

// InsertOracleOutput stores the oracle's raw reply for auditing.
func (r *Repository) InsertOracleOutput(ctx context.Context, runID, oracleName, raw string) error {
	row := OracleOutputRow{
		OutputID:   uuid.NewString(),
		RunID:      runID,
		OracleName: oracleName,
		RawJSON:    rawJSON(raw),
		CreatedTS:  time.Now().UTC(),
	}
	_, err := r.exec(ctx, "InsertOracleOutput", fmt.Sprintf(`
		INSERT INTO %s (output_id, run_id, oracle_name, raw_json, created_ts)
		VALUES (@output_id, @run_id, @oracle_name, PARSE_JSON(@raw_json), @created_ts)
	`, r.table(oracleOutputsTable)), []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "oracle_name", Value: row.OracleName},
		{Name: "raw_json", Value: row.RawJSON.JSONVal},
		{Name: "created_ts", Value: row.CreatedTS},
	})
	return err
}
