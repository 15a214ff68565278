package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// CSV reads comma or tab separated exports. Files that are not valid UTF-8
// are decoded as EUC-KR, the encoding most Korean bank exports use.
type CSV struct{}

func (CSV) Extract(_ context.Context, att Attachment) (*analyzer.Document, error) {
	data := bytes.TrimPrefix(att.Data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), korean.EUCKR.NewDecoder()))
		if err != nil {
			return nil, fmt.Errorf("CSV.Extract: decode EUC-KR: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.Comma = sniffDelimiter(data)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV.Extract: read records: %w", err)
	}
	rows := trimRows(records)
	if len(rows) == 0 {
		return nil, fmt.Errorf("CSV.Extract: no rows in %q", att.Filename)
	}
	return &analyzer.Document{
		Headers: rows[0],
		Rows:    rows[1:],
	}, nil
}

// sniffDelimiter picks tab when the first line has more tabs than commas.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte("\t")) > bytes.Count(line, []byte(",")) {
		return '\t'
	}
	return ','
}
