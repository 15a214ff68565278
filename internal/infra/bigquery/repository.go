// Package bigquery persists templates, analysis runs and raw oracle replies in
// BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	DefaultDataset = "column_analyzer"

	templatesTable     = "bank_templates"
	analysisRunsTable  = "analysis_runs"
	oracleOutputsTable = "oracle_outputs"
)

// Config selects the project and dataset.
type Config struct {
	ProjectID string
	Dataset   string
}

// Repository holds a shared BigQuery client so every operation reuses one
// connection.
type Repository struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewRepository creates the client. Close it when the repository is no longer
// needed.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("NewRepository: project id is required")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, cfg), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, cfg Config) *Repository {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	return &Repository{client: client, project: cfg.ProjectID, dataset: cfg.Dataset}
}

func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted table name.
func (r *Repository) table(name string) string {
	return tableRef(r.project, r.dataset, name)
}

func tableRef(project, dataset, name string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, name)
}

// exec runs a DML statement and waits for it. DML avoids the streaming buffer,
// so rows can be updated right after they are inserted.
func (r *Repository) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	var affected int64
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		affected = stats.NumDMLAffectedRows
	}
	return affected, nil
}
