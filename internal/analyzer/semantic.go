package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

const (
	DefaultOracleTimeout       = 60 * time.Second
	DefaultMinOracleConfidence = 0.7
	maxOracleSampleRows        = 10
)

// Oracle infers a column mapping from a header line and sample rows. It is
// called at most once per analysis.
type Oracle interface {
	Infer(ctx context.Context, req OracleRequest) (*OracleGuess, error)
	Name() string
}

// TemplateSummary is what the oracle sees of each known template.
type TemplateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	BankName    string `json:"bankName,omitempty"`
	Description string `json:"description,omitempty"`
}

// OracleRequest carries the document sample. Row i of SampleRows is grid row
// i+1; Headers is grid row 0.
type OracleRequest struct {
	Headers    []string
	SampleRows [][]string
	Attachment []byte
	MIMEType   string
	Templates  []TemplateSummary
}

// OracleGuess is the decoded oracle reply. Raw keeps the text it came from.
type OracleGuess struct {
	Success                  *bool                    `json:"success"`
	TableType                *string                  `json:"tableType"`
	TemplateID               string                   `json:"templateId"`
	ColumnMapping            ColumnMapping            `json:"columnMapping"`
	HeaderRowIndex           *int                     `json:"headerRowIndex"`
	DataStartRowIndex        *int                     `json:"dataStartRowIndex"`
	TransactionTypeDetection TransactionTypeDetection `json:"transactionTypeDetection"`
	MemoAnalysis             *MemoAnalysis            `json:"memoAnalysis"`
	Confidence               float64                  `json:"confidence" validate:"gte=0,lte=1"`
	Reasoning                string                   `json:"reasoning"`
	Raw                      string                   `json:"-"`
}

// semanticMatch is a validated oracle guess resolved against the document.
type semanticMatch struct {
	guess     *OracleGuess
	mapping   ColumnMapping
	headerRow int
	dataStart int
	corrected bool
	template  *templates.Template
}

// SemanticConfig tunes Layer-2.
type SemanticConfig struct {
	Timeout       time.Duration
	MinConfidence float64
}

// SemanticMatcher is Layer-2: it asks the oracle once and validates what
// comes back.
type SemanticMatcher struct {
	oracle   Oracle
	cfg      SemanticConfig
	validate *validator.Validate
}

func NewSemanticMatcher(o Oracle, cfg SemanticConfig) *SemanticMatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOracleTimeout
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinOracleConfidence
	}
	return &SemanticMatcher{oracle: o, cfg: cfg, validate: validator.New()}
}

func (m *SemanticMatcher) request(doc *Document, grid [][]string, tpls []templates.Template) OracleRequest {
	end := min(len(grid), 1+maxOracleSampleRows)
	req := OracleRequest{
		Headers:    grid[0],
		SampleRows: grid[1:end],
		Attachment: doc.Attachment,
		MIMEType:   doc.MIMEType,
	}
	for _, t := range tpls {
		req.Templates = append(req.Templates, TemplateSummary{
			ID:          t.ID,
			Name:        t.Name,
			BankName:    t.BankName,
			Description: t.Description,
		})
	}
	return req
}

// Match calls the oracle and accepts its guess only if it is well formed,
// confident enough and refers to headers the document actually has.
func (m *SemanticMatcher) Match(ctx context.Context, doc *Document, grid [][]string, tpls []templates.Template) (*semanticMatch, error) {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	guess, err := m.oracle.Infer(ctx, m.request(doc, grid, tpls))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("oracle timed out after %s: %w", m.cfg.Timeout, err)
		}
		return nil, OracleError("semantic.infer", err)
	}
	if guess == nil {
		return nil, OracleError("semantic.infer", errors.New("oracle returned no guess"))
	}
	log.Debug().
		Str("oracle", m.oracle.Name()).
		Dur("elapsed", time.Since(start)).
		Float64("confidence", guess.Confidence).
		Str("template_id", guess.TemplateID).
		Msg("Oracle replied")

	if err := m.validate.Struct(guess); err != nil {
		return nil, OracleError("semantic.validate", err)
	}
	if guess.Success != nil && !*guess.Success {
		return nil, OracleError("semantic.validate", fmt.Errorf("oracle could not map the table: %s", guess.Reasoning))
	}
	if guess.Confidence < m.cfg.MinConfidence {
		return nil, OracleError("semantic.validate",
			fmt.Errorf("oracle confidence %.2f below threshold %.2f", guess.Confidence, m.cfg.MinConfidence))
	}

	match := &semanticMatch{guess: guess, headerRow: 0, dataStart: 1}
	if guess.HeaderRowIndex != nil {
		match.headerRow = *guess.HeaderRowIndex
	}
	if guess.DataStartRowIndex != nil {
		match.dataStart = *guess.DataStartRowIndex
	} else {
		match.dataStart = match.headerRow + 1
	}
	noTable := tableless(grid)
	if match.headerRow < 0 || (!noTable && match.headerRow >= len(grid)) || match.dataStart <= match.headerRow {
		log.Warn().
			Int("header_row", match.headerRow).
			Int("data_start", match.dataStart).
			Msg("Oracle row indices out of range, using 0/1")
		match.headerRow, match.dataStart, match.corrected = 0, 1, true
	}

	if noTable {
		// headers only exist inside the attachment; nothing to check against
		if guess.ColumnMapping.Date == "" {
			return nil, OracleError("semantic.validate", errors.New("oracle mapping has no date column"))
		}
		match.mapping = guess.ColumnMapping
	} else {
		mapping, err := resolveMapping(guess.ColumnMapping, grid[match.headerRow])
		if err != nil {
			return nil, OracleError("semantic.validate", err)
		}
		match.mapping = mapping
	}

	if guess.TemplateID != "" {
		for i := range tpls {
			if tpls[i].ID == guess.TemplateID {
				match.template = &tpls[i]
				break
			}
		}
		if match.template == nil {
			log.Debug().Str("template_id", guess.TemplateID).Msg("Oracle named an unknown template, using its mapping")
		}
	}
	return match, nil
}

// resolveMapping checks every non-empty mapped header against headers and
// rewrites it to the literal header text.
func resolveMapping(in ColumnMapping, headers []string) (ColumnMapping, error) {
	var out ColumnMapping
	for _, key := range mappingKeys {
		want := in.Get(key)
		if want == "" {
			out.set(key, "")
			continue
		}
		h, _, ok := findExactHeader(headers, want)
		if !ok {
			return ColumnMapping{}, fmt.Errorf("mapped header %q for %s is not in the header row", want, key)
		}
		out.set(key, h)
	}
	if out.Date == "" {
		return ColumnMapping{}, errors.New("oracle mapping has no date column")
	}
	return out, nil
}

// findExactHeader matches on normalized equality only.
func findExactHeader(headers []string, want string) (string, int, bool) {
	for i, h := range headers {
		if headersMatch(h, want) {
			return h, i, true
		}
	}
	return "", -1, false
}
