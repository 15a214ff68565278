package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// finishedRow summarizes a result into the columns of analysis_runs.
func finishedRow(runID string, res *analyzer.AnalysisResult) (*AnalysisRunRow, error) {
	if res == nil {
		return nil, fmt.Errorf("run %s: nil result", runID)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("run %s: encoding result: %w", runID, err)
	}

	row := &AnalysisRunRow{
		RunID:      runID,
		Status:     StatusSucceeded,
		FinishedTS: bigquery.NullTimestamp{Timestamp: time.Now().UTC(), Valid: true},
		MatchLayer: nullString(string(res.MatchLayer)),
		TemplateID: nullString(res.TemplateID),
		Confidence: bigquery.NullFloat64{Float64: res.Confidence, Valid: res.Success},
		Result:     bigquery.NullJSON{JSONVal: string(payload), Valid: true},
	}
	if res.Success {
		row.Method = nullString(string(res.TransactionTypeDetection.Method))
	} else {
		row.ErrorKind = nullString(string(res.ErrorKind()))
		if res.Error != nil {
			row.ErrorMessage = nullString(truncate(*res.Error, maxErrorMessageLen))
		}
	}
	return row, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), maxErrorMessageLen)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// rawJSON stores valid JSON as-is and anything else as a JSON string, so a
// malformed oracle reply is still kept.
func rawJSON(raw string) bigquery.NullJSON {
	if json.Valid([]byte(raw)) {
		return bigquery.NullJSON{JSONVal: raw, Valid: true}
	}
	quoted, _ := json.Marshal(raw)
	return bigquery.NullJSON{JSONVal: string(quoted), Valid: true}
}
