package oracle

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the part of *genai.Models the oracle uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig selects the Gemini backend. With an empty APIKey the client
// uses Vertex AI with application default credentials.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string
	Prompt   string
}

// Gemini asks a Gemini model. It accepts document attachments.
type Gemini struct {
	models contentGenerator
	model  string
	prompt string
}

// NewGemini creates the genai client once; it is shared by all requests.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else if cfg.Project != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models contentGenerator, cfg GeminiConfig) *Gemini {
	g := &Gemini{models: models, model: cfg.Model, prompt: cfg.Prompt}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if g.prompt == "" {
		g.prompt = DefaultPrompt
	}
	return g
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

// Infer sends the prompt, the table preview and the attachment, if any, in a
// single request.
func (g *Gemini) Infer(ctx context.Context, req analyzer.OracleRequest) (*analyzer.OracleGuess, error) {
	parts := []*genai.Part{
		{Text: g.prompt},
		{Text: userText(req)},
	}
	if len(req.Attachment) > 0 {
		mime := req.MIMEType
		if mime == "" {
			mime = "application/pdf"
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mime,
				Data:     req.Attachment,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini.Infer: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, errors.New("Gemini.Infer: empty response from model")
	}
	guess, err := decodeGuess(raw)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Infer: %w", err)
	}
	return guess, nil
}
