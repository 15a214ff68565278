package analyzer

import (
	"strings"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

// searchText builds the normalized text Layer-1 scans: raw extracted text
// plus the grid rows up to and including the detected header row. Data rows
// are never scanned.
func searchText(doc *Document) string {
	var b strings.Builder
	b.WriteString(NormalizeHeader(doc.RawText))
	b.WriteByte('\x1f')
	grid := doc.grid()
	last := detectHeaderRow(grid)
	for i := 0; i <= last && i < len(grid); i++ {
		for _, cell := range grid[i] {
			b.WriteString(NormalizeHeader(cell))
			// identifiers never span two cells
			b.WriteByte('\x1f')
		}
	}
	return b.String()
}

// MatchExact returns the first template, in the given order, whose
// identifiers all occur in text. text must already be normalized. Templates
// without identifiers never match.
func MatchExact(text string, tpls []templates.Template) (templates.Template, bool) {
	for _, t := range tpls {
		if identifiersPresent(text, t.Identifiers) {
			return t, true
		}
	}
	return templates.Template{}, false
}

func identifiersPresent(text string, identifiers []string) bool {
	if len(identifiers) == 0 {
		return false
	}
	for _, id := range identifiers {
		n := NormalizeHeader(id)
		if n == "" || !strings.Contains(text, n) {
			return false
		}
	}
	return true
}
