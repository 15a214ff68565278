package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/api/middleware"
	"github.com/dvloznov/column-analyzer/internal/extract"
	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

const (
	// DefaultMaxFileBytes caps multipart uploads.
	DefaultMaxFileBytes = 32 << 20
	maxPreviewRows      = 50
)

// Analyzer is the analysis capability the handlers need.
type Analyzer interface {
	Analyze(ctx context.Context, doc *analyzer.Document) (*analyzer.AnalysisResult, error)
	Health() analyzer.Health
}

// AnalyzeHandler serves synchronous analysis of tables and uploaded files.
type AnalyzeHandler struct {
	analyzer     Analyzer
	extractor    extract.Extractor
	maxFileBytes int64
}

// NewAnalyzeHandler creates the handler. maxFileBytes <= 0 uses
// DefaultMaxFileBytes.
func NewAnalyzeHandler(a Analyzer, ex extract.Extractor, maxFileBytes int64) *AnalyzeHandler {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &AnalyzeHandler{analyzer: a, extractor: ex, maxFileBytes: maxFileBytes}
}

type tableRequest struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	RawText string     `json:"rawText"`
}

type analyzeResponse struct {
	*analyzer.AnalysisResult
	Preview []analyzer.PreviewRow `json:"preview,omitempty"`
}

// Health handles GET /health
func (h *AnalyzeHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.analyzer.Health())
}

// AnalyzeTable handles POST /api/analyze/table
func (h *AnalyzeHandler) AnalyzeTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	preview, ok := previewRows(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "preview must be a non-negative integer")
		return
	}

	doc := &analyzer.Document{Headers: req.Headers, Rows: req.Rows, RawText: req.RawText}
	h.analyze(w, r, doc, preview)
}

// AnalyzeFile handles POST /api/analyze/file
// The upload is read from the multipart field "file" and extracted before
// analysis. Extraction failures are reported as failed results.
func (h *AnalyzeHandler) AnalyzeFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes)
	if err := r.ParseMultipartForm(h.maxFileBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	preview, ok := previewRows(r)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "preview must be a non-negative integer")
		return
	}

	att := extract.Attachment{
		Filename: filepath.Base(header.Filename),
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	doc, err := h.extractor.Extract(ctx, att)
	if err != nil {
		log.Warn().Err(err).Str("filename", att.Filename).Msg("Extraction failed")
		middleware.WriteJSON(w, http.StatusOK, analyzer.Failure(err))
		return
	}

	h.analyze(w, r, doc, preview)
}

func (h *AnalyzeHandler) analyze(w http.ResponseWriter, r *http.Request, doc *analyzer.Document, preview int) {
	log := logger.FromContext(r.Context())

	res, err := h.analyzer.Analyze(r.Context(), doc)
	if err != nil {
		writeAnalyzerError(w, err)
		return
	}
	if !res.Success {
		log.Info().Str("error_kind", string(res.ErrorKind())).Msg("Analysis did not produce a mapping")
	}

	out := analyzeResponse{AnalysisResult: res}
	if preview > 0 {
		out.Preview = analyzer.Preview(doc, res, preview)
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// previewRows reads ?preview=n, capped at maxPreviewRows.
func previewRows(r *http.Request) (int, bool) {
	s := r.URL.Query().Get("preview")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > maxPreviewRows {
		n = maxPreviewRows
	}
	return n, true
}

func writeAnalyzerError(w http.ResponseWriter, err error) {
	if errors.Is(err, templates.ErrNotLoaded) {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Template registry not loaded")
		return
	}
	middleware.WriteError(w, http.StatusInternalServerError, "Analysis failed")
}
