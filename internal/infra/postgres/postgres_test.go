package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

func TestTemplateModel_RoundTrip(t *testing.T) {
	idx := 1
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in := templates.Template{
		ID:          "toss",
		Name:        "토스뱅크",
		BankName:    "토스뱅크",
		Identifiers: []string{"토스뱅크"},
		Schema: templates.ColumnSchema{
			Columns: map[templates.Field]templates.ColumnDef{
				templates.FieldType: {Index: &idx, Header: "거래구분"},
			},
		},
		IsActive:  true,
		Priority:  10,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assert.Equal(t, in, ModelFrom(in).ToTemplate())
}

func TestModelFrom_NilIdentifiers(t *testing.T) {
	m := ModelFrom(templates.Template{ID: "x"})
	assert.NotNil(t, m.Identifiers)
	assert.Empty(t, m.Identifiers)
}

func TestTemplateModel_TableName(t *testing.T) {
	assert.Equal(t, "transaction_templates", TemplateModel{}.TableName())
}
