package analyzer

import "github.com/dvloznov/column-analyzer/internal/templates"

// Canonical output field names. These are fixed strings and are never
// translated.
const (
	KeyDate       = "거래일자"
	KeyType       = "구분"
	KeyDeposit    = "입금금액"
	KeyWithdrawal = "출금금액"
	KeyAmount     = "금액"
	KeyBalance    = "잔액"
	KeyMemo       = "비고"
)

// Method is how a statement encodes the direction of money flow.
type Method string

const (
	MethodSeparateColumns Method = "separate_columns"
	MethodSignInType      Method = "sign_in_type"
	MethodTypeColumn      Method = "type_column"
	MethodAmountSign      Method = "amount_sign"
)

// Valid reports whether m is one of the four known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodSeparateColumns, MethodSignInType, MethodTypeColumn, MethodAmountSign:
		return true
	}
	return false
}

// MatchLayer records which layer produced the mapping.
type MatchLayer string

const (
	LayerExact    MatchLayer = "exact_match"
	LayerSemantic MatchLayer = "semantic_match"
)

// Document is a single statement table. It is not modified during analysis.
type Document struct {
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	RawText    string     `json:"rawText,omitempty"`
	Attachment []byte     `json:"-"`
	MIMEType   string     `json:"-"`
	Filename   string     `json:"-"`
}

// grid returns headers followed by rows. Row 0 of the grid is the header
// line the extractor produced.
func (d *Document) grid() [][]string {
	headers := d.Headers
	rows := d.Rows
	if len(headers) == 0 && len(rows) > 0 {
		headers, rows = rows[0], rows[1:]
	}
	out := make([][]string, 0, len(rows)+1)
	out = append(out, headers)
	out = append(out, rows...)
	return out
}

// tableless reports an attachment-only document with no extracted table.
func tableless(grid [][]string) bool {
	return len(grid) == 1 && len(grid[0]) == 0
}

// empty reports a document with nothing to analyze.
func (d *Document) empty() bool {
	if len(d.Attachment) > 0 {
		return false
	}
	for _, h := range d.Headers {
		if NormalizeHeader(h) != "" {
			return false
		}
	}
	for _, row := range d.Rows {
		for _, cell := range row {
			if NormalizeHeader(cell) != "" {
				return false
			}
		}
	}
	return true
}

// ColumnMapping maps canonical fields onto literal source headers. Optional
// fields are nil when the document has no such column.
type ColumnMapping struct {
	Date       string  `json:"거래일자" validate:"required"`
	Type       *string `json:"구분"`
	Deposit    *string `json:"입금금액"`
	Withdrawal *string `json:"출금금액"`
	Amount     *string `json:"금액"`
	Balance    *string `json:"잔액"`
	Memo       *string `json:"비고" validate:"required"`
}

// Get returns the header mapped to a canonical key, or "".
func (m ColumnMapping) Get(key string) string {
	switch key {
	case KeyDate:
		return m.Date
	case KeyType:
		return deref(m.Type)
	case KeyDeposit:
		return deref(m.Deposit)
	case KeyWithdrawal:
		return deref(m.Withdrawal)
	case KeyAmount:
		return deref(m.Amount)
	case KeyBalance:
		return deref(m.Balance)
	case KeyMemo:
		return deref(m.Memo)
	}
	return ""
}

// set assigns header to key; an empty header clears optional keys.
func (m *ColumnMapping) set(key, header string) {
	var p *string
	if header != "" {
		h := header
		p = &h
	}
	switch key {
	case KeyDate:
		m.Date = header
	case KeyType:
		m.Type = p
	case KeyDeposit:
		m.Deposit = p
	case KeyWithdrawal:
		m.Withdrawal = p
	case KeyAmount:
		m.Amount = p
	case KeyBalance:
		m.Balance = p
	case KeyMemo:
		if p == nil {
			empty := ""
			p = &empty
		}
		m.Memo = p
	}
}

// mappingKeys lists canonical keys in output order.
var mappingKeys = []string{KeyDate, KeyType, KeyDeposit, KeyWithdrawal, KeyAmount, KeyBalance, KeyMemo}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TransactionTypeDetection names the direction convention of the document.
type TransactionTypeDetection struct {
	Method  Method `json:"method" validate:"omitempty,oneof=separate_columns sign_in_type type_column amount_sign"`
	Details string `json:"details,omitempty"`
}

// MemoAnalysis describes the free-text column.
type MemoAnalysis struct {
	ColumnName         string   `json:"columnName"`
	ContentType        string   `json:"contentType"`
	Confidence         float64  `json:"confidence"`
	InterleavedColumns []string `json:"interleavedColumns,omitempty"`
}

// AnalysisResult is the externally visible outcome of one analysis. It is
// built once and not modified afterwards.
type AnalysisResult struct {
	Success                  bool                     `json:"success"`
	TableType                *string                  `json:"tableType"`
	ColumnMapping            ColumnMapping            `json:"columnMapping"`
	HeaderRowIndex           int                      `json:"headerRowIndex"`
	DataStartRowIndex        int                      `json:"dataStartRowIndex"`
	TransactionTypeDetection TransactionTypeDetection `json:"transactionTypeDetection"`
	MemoAnalysis             MemoAnalysis             `json:"memoAnalysis"`
	Confidence               float64                  `json:"confidence"`
	Reasoning                string                   `json:"reasoning"`
	Error                    *string                  `json:"error"`

	MatchLayer MatchLayer            `json:"matchLayer,omitempty"`
	TemplateID string                `json:"templateId,omitempty"`
	BankName   string                `json:"bankName,omitempty"`
	ParseRules *templates.ParseRules `json:"parseRules,omitempty"`

	// OracleRaw is the oracle's unparsed reply, kept for audit storage.
	OracleRaw string `json:"-"`

	err error
}

// Health is the liveness payload.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
