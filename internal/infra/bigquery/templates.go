package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

// TemplateRow is one row of bank_templates. column_schema is stored as JSON.
type TemplateRow struct {
	TemplateID   string              `bigquery:"template_id"`   // REQUIRED
	Name         string              `bigquery:"name"`          // REQUIRED
	BankName     bigquery.NullString `bigquery:"bank_name"`     // NULLABLE
	Description  bigquery.NullString `bigquery:"description"`   // NULLABLE
	Identifiers  []string            `bigquery:"identifiers"`   // REPEATED
	ColumnSchema bigquery.NullJSON   `bigquery:"column_schema"` // REQUIRED (JSON)
	IsActive     bool                `bigquery:"is_active"`     // REQUIRED
	Priority     int64               `bigquery:"priority"`      // REQUIRED
	MatchCount   int64               `bigquery:"match_count"`   // REQUIRED (default 0)

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// ToTemplate decodes the row. A malformed column_schema is an error so a bad
// row never reaches the registry silently.
func (row *TemplateRow) ToTemplate() (templates.Template, error) {
	t := templates.Template{
		ID:          row.TemplateID,
		Name:        row.Name,
		BankName:    row.BankName.StringVal,
		Description: row.Description.StringVal,
		Identifiers: row.Identifiers,
		IsActive:    row.IsActive,
		Priority:    int(row.Priority),
		MatchCount:  row.MatchCount,
		CreatedAt:   row.CreatedTS,
	}
	if row.UpdatedTS.Valid {
		t.UpdatedAt = row.UpdatedTS.Timestamp
	}
	if row.ColumnSchema.Valid && row.ColumnSchema.JSONVal != "" {
		if err := json.Unmarshal([]byte(row.ColumnSchema.JSONVal), &t.Schema); err != nil {
			return templates.Template{}, fmt.Errorf("template %s: decoding column_schema: %w", row.TemplateID, err)
		}
	}
	return t, nil
}

// TemplateRowFrom encodes t for storage.
func TemplateRowFrom(t templates.Template) (*TemplateRow, error) {
	schema, err := json.Marshal(t.Schema)
	if err != nil {
		return nil, fmt.Errorf("template %s: encoding column_schema: %w", t.ID, err)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row := &TemplateRow{
		TemplateID:   t.ID,
		Name:         t.Name,
		BankName:     bigquery.NullString{StringVal: t.BankName, Valid: t.BankName != ""},
		Description:  bigquery.NullString{StringVal: t.Description, Valid: t.Description != ""},
		Identifiers:  t.Identifiers,
		ColumnSchema: bigquery.NullJSON{JSONVal: string(schema), Valid: true},
		IsActive:     t.IsActive,
		Priority:     int64(t.Priority),
		MatchCount:   t.MatchCount,
		CreatedTS:    created,
	}
	if !t.UpdatedAt.IsZero() {
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: t.UpdatedAt, Valid: true}
	}
	if row.Identifiers == nil {
		row.Identifiers = []string{}
	}
	return row, nil
}

// ListTemplates returns every template, active or not, in priority order. It
// implements templates.Source.
func (r *Repository) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
		  template_id,
		  name,
		  bank_name,
		  description,
		  identifiers,
		  column_schema,
		  is_active,
		  priority,
		  match_count,
		  created_ts,
		  updated_ts
		FROM %s
		ORDER BY priority, created_ts, template_id
	`, r.table(templatesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTemplates: query read: %w", err)
	}

	var out []templates.Template
	for {
		var row TemplateRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTemplates: iter next: %w", err)
		}
		t, err := row.ToTemplate()
		if err != nil {
			return nil, fmt.Errorf("ListTemplates: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// IncrementMatchCount bumps match_count for one template. It implements
// templates.MatchRecorder.
func (r *Repository) IncrementMatchCount(ctx context.Context, templateID string) error {
	n, err := r.exec(ctx, "IncrementMatchCount", fmt.Sprintf(`
		UPDATE %s
		SET match_count = match_count + 1,
		    updated_ts = @updated_ts
		WHERE template_id = @template_id
	`, r.table(templatesTable)), []bigquery.QueryParameter{
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "template_id", Value: templateID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("IncrementMatchCount: %s: %w", templateID, templates.ErrNotFound)
	}
	return nil
}

// UpsertTemplate inserts or replaces a template by id. match_count and
// created_ts of an existing row are preserved.
func (r *Repository) UpsertTemplate(ctx context.Context, t templates.Template) error {
	row, err := TemplateRowFrom(t)
	if err != nil {
		return fmt.Errorf("UpsertTemplate: %w", err)
	}
	_, err = r.exec(ctx, "UpsertTemplate", fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @template_id AS template_id) S
		ON T.template_id = S.template_id
		WHEN MATCHED THEN UPDATE SET
		  name = @name,
		  bank_name = @bank_name,
		  description = @description,
		  identifiers = @identifiers,
		  column_schema = PARSE_JSON(@column_schema),
		  is_active = @is_active,
		  priority = @priority,
		  updated_ts = @now
		WHEN NOT MATCHED THEN INSERT (
		  template_id, name, bank_name, description, identifiers,
		  column_schema, is_active, priority, match_count, created_ts
		) VALUES (
		  @template_id, @name, @bank_name, @description, @identifiers,
		  PARSE_JSON(@column_schema), @is_active, @priority, 0, @created_ts
		)
	`, r.table(templatesTable)), []bigquery.QueryParameter{
		{Name: "template_id", Value: row.TemplateID},
		{Name: "name", Value: row.Name},
		{Name: "bank_name", Value: row.BankName},
		{Name: "description", Value: row.Description},
		{Name: "identifiers", Value: row.Identifiers},
		{Name: "column_schema", Value: row.ColumnSchema.JSONVal},
		{Name: "is_active", Value: row.IsActive},
		{Name: "priority", Value: row.Priority},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "now", Value: time.Now().UTC()},
	})
	return err
}
