package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

const (
	DefaultLayoutModel   = "document-parse"
	DefaultLayoutTimeout = 120 * time.Second
)

// LayoutConfig points at a document layout service that returns page elements
// with HTML tables.
type LayoutConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LayoutService extracts tables from PDFs through a remote layout service.
// PDFs without any table are forwarded with their text and the raw file so a
// multimodal oracle can still read them.
type LayoutService struct {
	cfg    LayoutConfig
	client *http.Client
}

func NewLayoutService(cfg LayoutConfig) *LayoutService {
	if cfg.Model == "" {
		cfg.Model = DefaultLayoutModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLayoutTimeout
	}
	return &LayoutService{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type layoutResponse struct {
	Elements []layoutElement `json:"elements"`
}

type layoutElement struct {
	Category string `json:"category"`
	Page     int    `json:"page"`
	Content  struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	} `json:"content"`
}

func (s *LayoutService) Extract(ctx context.Context, att Attachment) (*analyzer.Document, error) {
	log := logger.FromContext(ctx)

	body, contentType, err := s.form(att)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("LayoutService.Extract: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("LayoutService.Extract: call layout service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("LayoutService.Extract: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LayoutService.Extract: layout service returned %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}

	var parsed layoutResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("LayoutService.Extract: decode response: %w", err)
	}
	if len(parsed.Elements) == 0 {
		return nil, errors.New("LayoutService.Extract: layout service returned no elements")
	}

	doc := tablesToDocument(parsed.Elements)
	log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("elements", len(parsed.Elements)).
		Int("rows", len(doc.Rows)).
		Msg("PDF layout extracted")

	if len(doc.Headers) == 0 && len(doc.Rows) == 0 {
		log.Warn().Str("filename", att.Filename).Msg("No table found in PDF, forwarding attachment")
		doc.Attachment = att.Data
		doc.MIMEType = att.MIMEType
	}
	return doc, nil
}

func (s *LayoutService) form(att Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := att.Filename
	if name == "" {
		name = "document.pdf"
	}
	part, err := w.CreateFormFile("document", name)
	if err != nil {
		return nil, "", fmt.Errorf("LayoutService.form: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, "", fmt.Errorf("LayoutService.form: %w", err)
	}
	fields := map[string]string{
		"model":          s.cfg.Model,
		"ocr":            "auto",
		"output_formats": `["html"]`,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("LayoutService.form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("LayoutService.form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// tablesToDocument keeps the header line of the first table and appends the
// data rows of every table. Text of the non-table elements becomes RawText.
func tablesToDocument(elements []layoutElement) *analyzer.Document {
	doc := &analyzer.Document{}
	var text strings.Builder
	first := true
	for _, el := range elements {
		if el.Category != "table" {
			if t := elementText(el); t != "" {
				text.WriteString(t)
				text.WriteByte('\n')
			}
			continue
		}
		if el.Content.HTML == "" {
			continue
		}
		rows := parseHTMLTable(el.Content.HTML)
		if len(rows) == 0 {
			continue
		}
		if first {
			doc.Headers = rows[0]
			first = false
		}
		doc.Rows = append(doc.Rows, rows[1:]...)
	}
	doc.RawText = text.String()
	return doc
}

func elementText(el layoutElement) string {
	if el.Content.Text != "" {
		return el.Content.Text
	}
	if el.Content.HTML == "" {
		return ""
	}
	node, err := html.Parse(strings.NewReader(el.Content.HTML))
	if err != nil {
		return ""
	}
	return nodeText(node)
}

// parseHTMLTable returns one slice per <tr>. Empty cells are kept so column
// positions stay aligned.
func parseHTMLTable(src string) [][]string {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, nodeText(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return rows
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
