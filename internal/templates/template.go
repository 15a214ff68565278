package templates

import (
	"fmt"
	"strings"
	"time"
)

// Field is a canonical column slot a template can describe.
type Field string

const (
	FieldDate       Field = "date"
	FieldDeposit    Field = "deposit"
	FieldWithdrawal Field = "withdrawal"
	FieldAmount     Field = "amount"
	FieldBalance    Field = "balance"
	FieldMemo       Field = "memo"
	FieldType       Field = "type"
)

// Fields lists every known field in resolution order.
var Fields = []Field{FieldDate, FieldType, FieldDeposit, FieldWithdrawal, FieldAmount, FieldBalance, FieldMemo}

// CellRole describes what a column holds depending on the direction of the row.
type CellRole string

const (
	RoleAmount CellRole = "amount"
	RoleMemo   CellRole = "memo"
	RoleSkip   CellRole = "skip"
)

// ColumnDef locates one column of a statement layout.
type ColumnDef struct {
	Index          *int     `json:"index,omitempty" yaml:"index,omitempty"`
	Header         string   `json:"header" yaml:"header"`
	WhenDeposit    CellRole `json:"whenDeposit,omitempty" yaml:"whenDeposit,omitempty"`
	WhenWithdrawal CellRole `json:"whenWithdrawal,omitempty" yaml:"whenWithdrawal,omitempty"`
}

// ParseRules carries layout quirks downstream consumers need when reading rows.
type ParseRules struct {
	RowMergePattern string `json:"rowMergePattern,omitempty" yaml:"rowMergePattern,omitempty"`
	MemoExtraction  string `json:"memoExtraction,omitempty" yaml:"memoExtraction,omitempty"`
}

// ColumnSchema maps fields to columns. Not every field has to be present.
type ColumnSchema struct {
	Columns           map[Field]ColumnDef `json:"columns" yaml:"columns"`
	HeaderRowIndex    *int                `json:"headerRowIndex,omitempty" yaml:"headerRowIndex,omitempty"`
	DataStartRowIndex *int                `json:"dataStartRowIndex,omitempty" yaml:"dataStartRowIndex,omitempty"`
	ParseRules        *ParseRules         `json:"parseRules,omitempty" yaml:"parseRules,omitempty"`
}

// Column returns the definition for f, if the schema has one.
func (s ColumnSchema) Column(f Field) (ColumnDef, bool) {
	def, ok := s.Columns[f]
	return def, ok
}

// MemoInAmountColumns reports whether the schema declares memo text living in
// the empty side of a deposit/withdrawal pair.
func (s ColumnSchema) MemoInAmountColumns() bool {
	if def, ok := s.Columns[FieldDeposit]; ok && def.WhenDeposit == RoleAmount && def.WhenWithdrawal == RoleMemo {
		return true
	}
	if def, ok := s.Columns[FieldWithdrawal]; ok && def.WhenDeposit == RoleMemo && def.WhenWithdrawal == RoleAmount {
		return true
	}
	return false
}

// Template is a stored, bank-specific description of a statement layout.
type Template struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	BankName    string       `json:"bankName,omitempty" yaml:"bankName,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Identifiers []string     `json:"identifiers" yaml:"identifiers"`
	Schema      ColumnSchema `json:"columnSchema" yaml:"columnSchema"`
	IsActive    bool         `json:"isActive" yaml:"isActive"`
	Priority    int          `json:"priority" yaml:"priority"`
	MatchCount  int64        `json:"matchCount" yaml:"matchCount,omitempty"`
	CreatedAt   time.Time    `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Validate checks the fields the matcher relies on.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	for field := range t.Schema.Columns {
		if !knownField(field) {
			return fmt.Errorf("template %s: unknown column field %q", t.ID, field)
		}
	}
	for _, id := range t.Identifiers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("template %s: empty identifier", t.ID)
		}
	}
	return nil
}

func knownField(f Field) bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// clone deep-copies the mutable parts so snapshots never share slices or maps
// with callers.
func (t Template) clone() Template {
	out := t
	out.Identifiers = append([]string(nil), t.Identifiers...)
	if t.Schema.Columns != nil {
		out.Schema.Columns = make(map[Field]ColumnDef, len(t.Schema.Columns))
		for k, v := range t.Schema.Columns {
			if v.Index != nil {
				idx := *v.Index
				v.Index = &idx
			}
			out.Schema.Columns[k] = v
		}
	}
	if t.Schema.HeaderRowIndex != nil {
		v := *t.Schema.HeaderRowIndex
		out.Schema.HeaderRowIndex = &v
	}
	if t.Schema.DataStartRowIndex != nil {
		v := *t.Schema.DataStartRowIndex
		out.Schema.DataStartRowIndex = &v
	}
	if t.Schema.ParseRules != nil {
		rules := *t.Schema.ParseRules
		out.Schema.ParseRules = &rules
	}
	return out
}
