package analyzer

import (
	"fmt"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

const (
	maxHeaderScan  = 20
	maxSampleRows  = 10
	interleavedFmt = "interleaved_in_amount_column:%s"
)

// candidate is a mapping from either layer before direction classification
// and memo analysis.
type candidate struct {
	grid       [][]string
	headerRow  int
	dataStart  int
	mapping    ColumnMapping
	methodHint Method
	memoHint   *MemoAnalysis
	declared   []string // amount columns a template says carry memo text
	confidence float64
	layer      MatchLayer
	template   *templates.Template
	tableType  *string
	reasoning  []string
}

// synthesizer turns a template or an oracle guess into an AnalysisResult.
type synthesizer struct{}

// fromTemplate applies a template schema to the grid. It fails when the
// schema's date column cannot be found in the detected header row.
func (s synthesizer) fromTemplate(grid [][]string, t templates.Template, layer MatchLayer, confidence float64) (*AnalysisResult, error) {
	hr, ds := templateRows(grid, t.Schema)
	headers := grid[hr]

	c := &candidate{
		grid:       grid,
		headerRow:  hr,
		dataStart:  ds,
		confidence: confidence,
		layer:      layer,
		template:   &t,
	}
	c.mapping.set(KeyMemo, "")

	resolved := make(map[templates.Field]string)
	for _, f := range templates.Fields {
		def, ok := t.Schema.Column(f)
		if !ok {
			continue
		}
		h, ok := resolveColumn(def, headers)
		if !ok {
			c.reasoning = append(c.reasoning, fmt.Sprintf("template column %s (%q) not found", f, def.Header))
			continue
		}
		resolved[f] = h
		c.mapping.set(fieldKey[f], h)
	}
	if c.mapping.Date == "" {
		return nil, fmt.Errorf("template %s: date column not found in header row %d", t.ID, hr)
	}

	if t.Schema.MemoInAmountColumns() {
		if def, ok := t.Schema.Column(templates.FieldDeposit); ok && def.WhenWithdrawal == templates.RoleMemo {
			if h := resolved[templates.FieldDeposit]; h != "" {
				c.declared = append(c.declared, h)
			}
		}
		if def, ok := t.Schema.Column(templates.FieldWithdrawal); ok && def.WhenDeposit == templates.RoleMemo {
			if h := resolved[templates.FieldWithdrawal]; h != "" {
				c.declared = append(c.declared, h)
			}
		}
	}

	switch {
	case resolved[templates.FieldDeposit] != "" && resolved[templates.FieldWithdrawal] != "":
		c.methodHint = MethodSeparateColumns
	case resolved[templates.FieldType] != "":
		c.methodHint = MethodTypeColumn
	case resolved[templates.FieldAmount] != "":
		c.methodHint = MethodAmountSign
	}

	name := t.Name
	if name == "" && t.BankName != "" {
		name = t.BankName + " 거래내역"
	}
	if name != "" {
		c.tableType = &name
	}
	c.reasoning = append([]string{fmt.Sprintf("matched template %s by %s", t.ID, layer)}, c.reasoning...)
	return s.complete(c), nil
}

// fromGuess builds the result from a validated oracle guess. A guess naming
// an active template uses that template's schema.
func (s synthesizer) fromGuess(grid [][]string, m *semanticMatch) *AnalysisResult {
	g := m.guess
	if m.template != nil {
		res, err := s.fromTemplate(grid, *m.template, LayerSemantic, g.Confidence)
		if err == nil {
			if g.Reasoning != "" {
				res.Reasoning += "; " + g.Reasoning
			}
			res.OracleRaw = g.Raw
			return res
		}
	}

	c := &candidate{
		grid:       grid,
		headerRow:  m.headerRow,
		dataStart:  m.dataStart,
		mapping:    m.mapping,
		methodHint: g.TransactionTypeDetection.Method,
		memoHint:   g.MemoAnalysis,
		confidence: g.Confidence,
		layer:      LayerSemantic,
		tableType:  g.TableType,
	}
	if g.Reasoning != "" {
		c.reasoning = append(c.reasoning, g.Reasoning)
	}
	if m.corrected {
		c.reasoning = append(c.reasoning, "oracle row indices were out of range and were reset to 0/1")
	}
	res := s.complete(c)
	res.OracleRaw = g.Raw
	return res
}

// complete classifies direction, settles the memo column and assembles the
// result.
func (s synthesizer) complete(c *candidate) *AnalysisResult {
	headers := rowAt(c.grid, c.headerRow)
	data := sampleRows(c.grid, c.dataStart)

	method, details := classifyDirection(headers, data, &c.mapping, c.methodHint)

	var interleaved []string
	if dep, wd := c.mapping.Get(KeyDeposit), c.mapping.Get(KeyWithdrawal); dep != "" && wd != "" {
		interleaved = interleavedColumns(headers, data, dep, wd, c.declared)
	}

	memo := s.memo(c, headers, data, interleaved)

	res := &AnalysisResult{
		Success:                  true,
		TableType:                c.tableType,
		ColumnMapping:            c.mapping,
		HeaderRowIndex:           c.headerRow,
		DataStartRowIndex:        c.dataStart,
		TransactionTypeDetection: TransactionTypeDetection{Method: method, Details: details},
		MemoAnalysis:             memo,
		Confidence:               clamp01(c.confidence),
		Reasoning:                strings.Join(c.reasoning, "; "),
		MatchLayer:               c.layer,
	}
	if c.template != nil {
		res.TemplateID = c.template.ID
		res.BankName = c.template.BankName
		res.ParseRules = c.template.Schema.ParseRules
	}
	return res
}

func (s synthesizer) memo(c *candidate, headers []string, data [][]string, interleaved []string) MemoAnalysis {
	var ma MemoAnalysis
	if h := c.mapping.Get(KeyMemo); h != "" {
		idx := indexOf(headers, h)
		stats := scoreMemoColumn(h, idx, data)
		ma = MemoAnalysis{ColumnName: h, ContentType: stats.contentType(), Confidence: stats.confidence()}
	} else {
		exclude := make(map[string]bool)
		for _, key := range []string{KeyDate, KeyType, KeyDeposit, KeyWithdrawal, KeyAmount, KeyBalance} {
			if h := c.mapping.Get(key); h != "" {
				exclude[h] = true
			}
		}
		for _, h := range headers {
			if f, ok := ClassifyHeader(h); ok && f != templates.FieldMemo {
				exclude[h] = true
			}
		}
		if best := bestMemoColumn(headers, data, exclude); best != nil {
			c.mapping.set(KeyMemo, best.header)
			ma = MemoAnalysis{ColumnName: best.header, ContentType: best.contentType(), Confidence: best.confidence()}
		} else if len(interleaved) > 0 {
			ma = MemoAnalysis{ColumnName: interleaved[0], ContentType: "free_text", Confidence: 0.5}
		} else {
			ma = MemoAnalysis{ContentType: "unknown"}
		}
	}

	if hint := c.memoHint; hint != nil && headersMatch(hint.ColumnName, ma.ColumnName) {
		if hint.ContentType != "" {
			ma.ContentType = hint.ContentType
		}
		if hint.Confidence > 0 {
			ma.Confidence = clamp01(hint.Confidence)
		}
	}

	if len(interleaved) > 0 {
		base := ma.ContentType
		if base == "" || base == "unknown" {
			base = "free_text"
		}
		if !strings.HasPrefix(base, "interleaved_in_amount_column:") {
			ma.ContentType = fmt.Sprintf(interleavedFmt, base)
		}
		ma.InterleavedColumns = interleaved
	}
	return ma
}

// templateRows picks header and data start rows for a template. An explicit
// schema index wins; otherwise the row matching the most schema headers in the
// first rows of the grid is used.
func templateRows(grid [][]string, schema templates.ColumnSchema) (int, int) {
	hr := -1
	if schema.HeaderRowIndex != nil && *schema.HeaderRowIndex >= 0 && *schema.HeaderRowIndex < len(grid) {
		hr = *schema.HeaderRowIndex
	}
	if hr < 0 {
		var expected []string
		for _, f := range templates.Fields {
			if def, ok := schema.Column(f); ok && def.Header != "" {
				expected = append(expected, def.Header)
			}
		}
		best := 0
		for i := 0; i < len(grid) && i < maxHeaderScan; i++ {
			score := 0
			for _, want := range expected {
				if _, _, ok := findHeader(grid[i], want); ok {
					score++
				}
			}
			if score > best {
				hr, best = i, score
			}
		}
		if hr < 0 {
			hr = detectHeaderRow(grid)
		}
	}
	ds := hr + 1
	if schema.DataStartRowIndex != nil && *schema.DataStartRowIndex > hr {
		ds = *schema.DataStartRowIndex
	}
	return hr, ds
}

// detectHeaderRow returns the first row with at least two recognised header
// cells, or 0.
func detectHeaderRow(grid [][]string) int {
	for i := 0; i < len(grid) && i < maxHeaderScan; i++ {
		if recognizedHeaders(grid[i]) >= 2 {
			return i
		}
	}
	return 0
}

// resolveColumn finds a template column in headers: by index when the header
// there agrees, then by name, then by index alone.
func resolveColumn(def templates.ColumnDef, headers []string) (string, bool) {
	validIndex := def.Index != nil && *def.Index >= 0 && *def.Index < len(headers)
	if validIndex && def.Header != "" && headersMatch(headers[*def.Index], def.Header) {
		return headers[*def.Index], true
	}
	if def.Header != "" {
		if h, _, ok := findHeader(headers, def.Header); ok {
			return h, true
		}
	}
	if validIndex && strings.TrimSpace(headers[*def.Index]) != "" {
		return headers[*def.Index], true
	}
	return "", false
}

// classifyDirection applies the direction rules in order and fills the
// mapping keys the chosen method relies on.
func classifyDirection(headers []string, data [][]string, m *ColumnMapping, hint Method) (Method, string) {
	used := make(map[string]bool)
	for _, key := range mappingKeys {
		if h := m.Get(key); h != "" {
			used[h] = true
		}
	}
	pick := func(key string, f templates.Field) string {
		if h := m.Get(key); h != "" {
			return h
		}
		for _, h := range headers {
			if used[h] {
				continue
			}
			if got, ok := ClassifyHeader(h); ok && got == f {
				return h
			}
		}
		return ""
	}

	dep := pick(KeyDeposit, templates.FieldDeposit)
	wd := pick(KeyWithdrawal, templates.FieldWithdrawal)
	if dep != "" && wd != "" && dep != wd {
		m.set(KeyDeposit, dep)
		m.set(KeyWithdrawal, wd)
		return MethodSeparateColumns, fmt.Sprintf("deposits in %q, withdrawals in %q", dep, wd)
	}

	typeCol := pick(KeyType, templates.FieldType)
	amountCol := pick(KeyAmount, templates.FieldAmount)
	useType := func(method Method, details string) (Method, string) {
		m.set(KeyType, typeCol)
		if amountCol != "" {
			m.set(KeyAmount, amountCol)
		}
		return method, details
	}

	if typeCol != "" {
		vals := nonBlank(columnValues(headers, data, typeCol))
		signed, labelled := 0, 0
		for _, v := range vals {
			if signMarker(v) != 0 {
				signed++
			}
			if directionLabel(v) != 0 {
				labelled++
			}
		}
		if signed > 0 && signed*2 >= len(vals) {
			return useType(MethodSignInType, fmt.Sprintf("%q values carry a [+]/[-] marker", typeCol))
		}
		if labelled > 0 && labelled*2 >= len(vals) {
			return useType(MethodTypeColumn, fmt.Sprintf("%q holds deposit/withdrawal labels", typeCol))
		}
	}

	if amountCol != "" {
		for _, v := range columnValues(headers, data, amountCol) {
			if isNumeric(v) && hasExplicitSign(v) {
				m.set(KeyAmount, amountCol)
				return MethodAmountSign, fmt.Sprintf("sign of %q gives the direction", amountCol)
			}
		}
	}

	if hint.Valid() {
		switch hint {
		case MethodSignInType, MethodTypeColumn:
			if typeCol != "" {
				return useType(hint, fmt.Sprintf("direction read from %q", typeCol))
			}
		case MethodAmountSign:
			if amountCol != "" {
				m.set(KeyAmount, amountCol)
			}
		}
		return hint, "no structural evidence in the sample, keeping the suggested method"
	}
	if typeCol != "" {
		return useType(MethodTypeColumn, fmt.Sprintf("direction read from %q", typeCol))
	}
	if amountCol != "" {
		m.set(KeyAmount, amountCol)
	}
	return MethodAmountSign, "no direction columns found, assuming signed amounts"
}

// interleavedColumns reports deposit/withdrawal columns that hold memo text
// on rows where the opposite column holds the amount. declared columns are
// always reported.
func interleavedColumns(headers []string, data [][]string, dep, wd string, declared []string) []string {
	di, wi := indexOf(headers, dep), indexOf(headers, wd)
	found := make(map[string]bool)
	for _, h := range declared {
		found[h] = true
	}
	for _, row := range data {
		d, w := cellAt(row, di), cellAt(row, wi)
		if isAmountCell(d) && isTextCell(w) {
			found[wd] = true
		}
		if isAmountCell(w) && isTextCell(d) {
			found[dep] = true
		}
	}
	var out []string
	for _, h := range headers {
		if found[h] {
			out = append(out, h)
			delete(found, h)
		}
	}
	return out
}

func isAmountCell(cell string) bool {
	return !isBlank(cell) && isNumeric(cell)
}

func isTextCell(cell string) bool {
	return !isBlank(cell) && !isNumeric(cell) && hasLetters(cell)
}

// sampleRows returns up to maxSampleRows non-empty rows from start.
func sampleRows(grid [][]string, start int) [][]string {
	var out [][]string
	for i := start; i < len(grid) && len(out) < maxSampleRows; i++ {
		if len(nonBlank(grid[i])) == 0 {
			continue
		}
		out = append(out, grid[i])
	}
	return out
}

func columnValues(headers []string, data [][]string, header string) []string {
	idx := indexOf(headers, header)
	if idx < 0 {
		return nil
	}
	vals := make([]string, 0, len(data))
	for _, row := range data {
		vals = append(vals, cellAt(row, idx))
	}
	return vals
}

func nonBlank(cells []string) []string {
	var out []string
	for _, c := range cells {
		if !isBlank(c) {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(headers []string, header string) int {
	for i, h := range headers {
		if h == header {
			return i
		}
	}
	return -1
}

func rowAt(grid [][]string, i int) []string {
	if i < 0 || i >= len(grid) {
		return nil
	}
	return grid[i]
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
