package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen2.5:7b"
)

// chatModel is the part of an eino chat model the oracle uses.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// OllamaConfig points at a self-hosted Ollama server.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Prompt  string
}

// Ollama asks a local model through eino. It works on the table preview
// only; attachments are not forwarded.
type Ollama struct {
	chat   chatModel
	model  string
	prompt string
}

func NewOllama(ctx context.Context, cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("NewOllama: create chat model: %w", err)
	}
	return newOllama(cm, cfg), nil
}

func newOllama(cm chatModel, cfg OllamaConfig) *Ollama {
	o := &Ollama{chat: cm, model: cfg.Model, prompt: cfg.Prompt}
	if o.prompt == "" {
		o.prompt = DefaultPrompt
	}
	return o
}

func (o *Ollama) Name() string { return "ollama:" + o.model }

func (o *Ollama) Infer(ctx context.Context, req analyzer.OracleRequest) (*analyzer.OracleGuess, error) {
	if len(req.Headers) == 0 && len(req.SampleRows) == 0 {
		return nil, errors.New("Ollama.Infer: no table to analyze; attachment-only input needs a multimodal oracle")
	}
	resp, err := o.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(o.prompt),
		schema.UserMessage(userText(req)),
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama.Infer: generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, errors.New("Ollama.Infer: empty response from model")
	}
	guess, err := decodeGuess(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("Ollama.Infer: %w", err)
	}
	return guess, nil
}
