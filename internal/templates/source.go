package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/logger"
	"gopkg.in/yaml.v3"
)

// Source lists every stored template, active or not.
type Source interface {
	ListTemplates(ctx context.Context) ([]Template, error)
}

// MatchRecorder persists template usage counters.
type MatchRecorder interface {
	IncrementMatchCount(ctx context.Context, templateID string) error
}

// Load reads all templates from src and swaps them into the registry.
func Load(ctx context.Context, reg *Registry, src Source) (int, error) {
	tpls, err := src.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("Load: listing templates: %w", err)
	}
	if err := reg.Replace(tpls); err != nil {
		return 0, fmt.Errorf("Load: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Int("templates", len(tpls)).Msg("Template registry loaded")
	return len(tpls), nil
}

type seedFile struct {
	Templates []Template `yaml:"templates" json:"templates"`
}

// FileSource reads templates from a YAML or JSON seed file. JSON is parsed by
// the YAML decoder since it is a subset.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ListTemplates implements Source.
func (s *FileSource) ListTemplates(ctx context.Context) ([]Template, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading template file %s: %w", s.path, err)
	}
	return ParseSeed(data, filepath.Ext(s.path))
}

// ParseSeed decodes a seed document. Inactive flags default to true when the
// key is missing, so short seed files stay short.
func ParseSeed(data []byte, ext string) ([]Template, error) {
	var raw struct {
		Templates []yaml.Node `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s template seed: %w", strings.TrimPrefix(ext, "."), err)
	}

	out := make([]Template, 0, len(raw.Templates))
	for i, node := range raw.Templates {
		tpl := Template{IsActive: true}
		if err := node.Decode(&tpl); err != nil {
			return nil, fmt.Errorf("decoding template #%d: %w", i+1, err)
		}
		if err := tpl.Validate(); err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// WriteSeed encodes templates in the seed file format.
func WriteSeed(tpls []Template) ([]byte, error) {
	data, err := yaml.Marshal(seedFile{Templates: tpls})
	if err != nil {
		return nil, fmt.Errorf("encoding template seed: %w", err)
	}
	return data, nil
}
