// Package oracle implements the semantic column-mapping oracle on top of
// hosted and self-hosted language models.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// Providers understood by New.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Config selects and configures one provider.
type Config struct {
	Provider string
	Model    string
	Prompt   string

	GeminiAPIKey   string
	GeminiProject  string
	GeminiLocation string

	OllamaURL string
}

// New builds the configured oracle. ProviderNone returns a nil oracle, which
// disables Layer-2.
func New(ctx context.Context, cfg Config) (analyzer.Oracle, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey:   cfg.GeminiAPIKey,
			Project:  cfg.GeminiProject,
			Location: cfg.GeminiLocation,
			Model:    cfg.Model,
			Prompt:   cfg.Prompt,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOllama:
		o, err := NewOllama(ctx, OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.Model,
			Prompt:  cfg.Prompt,
		})
		if err != nil {
			return nil, err
		}
		return o, nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("oracle: unknown provider %q", cfg.Provider)
	}
}
