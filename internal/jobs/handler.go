package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// Ingestor analyzes a stored statement.
type Ingestor interface {
	AnalyzeFromGCS(ctx context.Context, gcsURI string) (*analyzer.AnalysisResult, string, error)
}

// NewAnalyzeHandler runs AnalyzeDocumentJobs through in. The result and run
// id are written back onto the job.
func NewAnalyzeHandler(in Ingestor) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*AnalyzeDocumentJob)
		if !ok {
			return fmt.Errorf("unsupported job type %q", job.GetType())
		}
		res, runID, err := in.AnalyzeFromGCS(ctx, j.GCSURI)
		j.RunID = runID
		if err != nil {
			return err
		}
		j.Result = res
		return nil
	}
}
