package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// XLSX reads the first sheet of a workbook.
type XLSX struct{}

func (XLSX) Extract(_ context.Context, att Attachment) (*analyzer.Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(att.Data))
	if err != nil {
		return nil, fmt.Errorf("XLSX.Extract: open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("XLSX.Extract: workbook has no sheets")
	}
	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("XLSX.Extract: read rows of %q: %w", sheet, err)
	}

	rows := trimRows(raw)
	if len(rows) == 0 {
		return nil, fmt.Errorf("XLSX.Extract: sheet %q is empty", sheet)
	}
	return &analyzer.Document{
		Headers: rows[0],
		Rows:    rows[1:],
	}, nil
}
