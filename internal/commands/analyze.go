package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/app"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// errAnalysisFailed is returned after a failed result has been printed so the
// process exits non-zero.
var errAnalysisFailed = errors.New("analysis did not produce a column mapping")

type analyzeOutput struct {
	*analyzer.AnalysisResult
	RunID   string                `json:"runId,omitempty"`
	Preview []analyzer.PreviewRow `json:"preview,omitempty"`
}

func newAnalyzeCommand(o *options) *cobra.Command {
	var preview int

	cmd := &cobra.Command{
		Use:   "analyze <file | gs://bucket/object>",
		Short: "Analyze the columns of a CSV, XLSX or PDF statement",
		Long: `Analyze extracts the statement table and maps its columns.

Local files are read directly. gs:// URIs are fetched from Cloud Storage and
recorded as analysis runs when bigquery.record_runs is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, o, args[0], preview)
		},
	}

	cmd.Flags().IntVar(&preview, "preview", 0, "number of data rows to show through the mapping (local files only)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, o *options, target string, preview int) error {
	ctx := logger.WithContext(cmd.Context(), o.log)

	cfg := *o.cfg
	remote := strings.HasPrefix(target, "gs://")
	cfg.GCS.Enabled = remote
	cfg.Templates.RefreshSchedule = ""

	a, err := app.New(ctx, &cfg, o.log)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if _, err := a.LoadTemplates(ctx); err != nil {
		return err
	}

	out := analyzeOutput{}
	if remote {
		res, runID, err := a.Ingestor.AnalyzeFromGCS(ctx, target)
		if err != nil {
			return err
		}
		out.AnalysisResult, out.RunID = res, runID
	} else {
		data, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("reading %s: %w", target, err)
		}
		doc, err := a.Extractor.Extract(ctx, extract.Attachment{Filename: filepath.Base(target), Data: data})
		if err != nil {
			out.AnalysisResult = analyzer.Failure(err)
		} else {
			res, err := a.Analyzer.Analyze(ctx, doc)
			if err != nil {
				return err
			}
			out.AnalysisResult = res
			out.Preview = analyzer.Preview(doc, res, preview)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Success {
		return errAnalysisFailed
	}
	return nil
}
