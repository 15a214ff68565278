// Package extract turns uploaded statement files into analyzer documents.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// Kind is a supported file format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
	KindPDF  Kind = "pdf"
)

// ErrUnsupported is returned for files no extractor handles.
var ErrUnsupported = errors.New("unsupported file type")

// Attachment is an uploaded or fetched file.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Extractor produces a document from one attachment.
type Extractor interface {
	Extract(ctx context.Context, att Attachment) (*analyzer.Document, error)
}

// DetectKind looks at magic bytes first and falls back to the file name and
// MIME type.
func DetectKind(att Attachment) (Kind, error) {
	switch {
	case bytes.HasPrefix(att.Data, []byte("%PDF")):
		return KindPDF, nil
	case bytes.HasPrefix(att.Data, []byte("PK\x03\x04")):
		return KindXLSX, nil
	}
	switch strings.ToLower(filepath.Ext(att.Filename)) {
	case ".csv", ".tsv", ".txt":
		return KindCSV, nil
	case ".xlsx", ".xlsm":
		return KindXLSX, nil
	case ".pdf":
		return KindPDF, nil
	}
	mime := strings.ToLower(att.MIMEType)
	switch {
	case strings.HasPrefix(mime, "text/csv"), strings.HasPrefix(mime, "text/plain"):
		return KindCSV, nil
	case strings.Contains(mime, "spreadsheetml"):
		return KindXLSX, nil
	case mime == "application/pdf":
		return KindPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, att.Filename)
}

// MIMEType returns the canonical MIME type of a kind.
func (k Kind) MIMEType() string {
	switch k {
	case KindCSV:
		return "text/csv"
	case KindXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case KindPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Registry dispatches to the extractor registered for the detected kind.
type Registry struct {
	byKind map[Kind]Extractor
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[Kind]Extractor)}
}

// Register installs e for kind, replacing any previous extractor.
func (r *Registry) Register(kind Kind, e Extractor) *Registry {
	r.byKind[kind] = e
	return r
}

// Default registers the built-in CSV and XLSX extractors. pdf handles PDFs;
// nil forwards PDFs as attachment-only documents.
func Default(pdf Extractor) *Registry {
	if pdf == nil {
		pdf = Passthrough{}
	}
	return NewRegistry().
		Register(KindCSV, CSV{}).
		Register(KindXLSX, XLSX{}).
		Register(KindPDF, pdf)
}

// Extract detects the kind of att and runs the matching extractor. Failures
// are returned as analyzer extraction errors.
func (r *Registry) Extract(ctx context.Context, att Attachment) (*analyzer.Document, error) {
	if len(att.Data) == 0 {
		return nil, analyzer.ExtractionError("extract", errors.New("empty file"))
	}
	kind, err := DetectKind(att)
	if err != nil {
		return nil, analyzer.ExtractionError("extract", err)
	}
	e, ok := r.byKind[kind]
	if !ok {
		return nil, analyzer.ExtractionError("extract", fmt.Errorf("%w: no extractor for %s", ErrUnsupported, kind))
	}
	if att.MIMEType == "" {
		att.MIMEType = kind.MIMEType()
	}
	doc, err := e.Extract(ctx, att)
	if err != nil {
		return nil, analyzer.ExtractionError("extract."+string(kind), err)
	}
	doc.Filename = att.Filename
	return doc, nil
}

// Passthrough hands the raw file to the analyzer without a table, leaving
// extraction to a multimodal oracle.
type Passthrough struct{}

func (Passthrough) Extract(_ context.Context, att Attachment) (*analyzer.Document, error) {
	return &analyzer.Document{
		Attachment: att.Data,
		MIMEType:   att.MIMEType,
	}, nil
}

// trimRows drops trailing empty cells and fully empty rows.
func trimRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		end := len(row)
		for end > 0 && strings.TrimSpace(row[end-1]) == "" {
			end--
		}
		if end == 0 {
			continue
		}
		cells := make([]string, end)
		for i := 0; i < end; i++ {
			cells[i] = strings.TrimSpace(row[i])
		}
		out = append(out, cells)
	}
	return out
}
