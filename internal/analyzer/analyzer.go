// Package analyzer maps the columns of a bank or payment-app statement table
// onto the canonical transaction fields. Layer-1 matches known templates by
// their identifier strings; Layer-2 asks a semantic oracle once when no
// template matches.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

const (
	DefaultExactConfidence = 1.0
	minExactConfidence     = 0.9
)

// TemplateSource supplies active templates in priority order.
type TemplateSource interface {
	ActiveTemplatesByPriority() ([]templates.Template, error)
}

// Config tunes both layers. Zero values fall back to the defaults.
type Config struct {
	ExactConfidence     float64
	OracleTimeout       time.Duration
	MinOracleConfidence float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExactConfidence:     DefaultExactConfidence,
		OracleTimeout:       DefaultOracleTimeout,
		MinOracleConfidence: DefaultMinOracleConfidence,
	}
}

// Analyzer runs the two-layer analysis. It is safe for concurrent use.
type Analyzer struct {
	source          TemplateSource
	semantic        *SemanticMatcher
	synth           synthesizer
	exactConfidence float64
	recorder        templates.MatchRecorder
	log             zerolog.Logger
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithMatchRecorder persists match counts in addition to the in-memory
// registry.
func WithMatchRecorder(r templates.MatchRecorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = l }
}

// New builds an Analyzer. oracle may be nil, in which case documents that
// match no template fail with a no_match error.
func New(source TemplateSource, oracle Oracle, cfg Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:          source,
		exactConfidence: clampExact(cfg.ExactConfidence),
		log:             logger.New(),
	}
	if oracle != nil {
		a.semantic = NewSemanticMatcher(oracle, SemanticConfig{
			Timeout:       cfg.OracleTimeout,
			MinConfidence: cfg.MinOracleConfidence,
		})
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func clampExact(c float64) float64 {
	switch {
	case c == 0:
		return DefaultExactConfidence
	case c < minExactConfidence:
		return minExactConfidence
	case c > 1:
		return 1
	}
	return c
}

// Analyze maps doc's columns. Every analysis outcome, including failures, is
// returned as a result; the error is non-nil only when the template registry
// is unavailable.
func (a *Analyzer) Analyze(ctx context.Context, doc *Document) (res *AnalysisResult, err error) {
	log := a.logger(ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Analysis panicked")
			res, err = Failure(&Error{Kind: KindInternal, Op: "analyze", Err: fmt.Errorf("%v", r)}), nil
		}
	}()

	if doc == nil || doc.empty() {
		log.Warn().Msg("Rejected empty document")
		return Failure(InputError("analyze", "document has no headers and no rows")), nil
	}

	tpls, err := a.source.ActiveTemplatesByPriority()
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	grid := doc.grid()
	var bypassed string
	if t, ok := MatchExact(searchText(doc), tpls); ok {
		exact, terr := a.synth.fromTemplate(grid, t, LayerExact, a.exactConfidence)
		if terr == nil {
			a.recordMatch(ctx, t.ID)
			log.Info().
				Str("template_id", t.ID).
				Str("layer", string(LayerExact)).
				Dur("elapsed", time.Since(start)).
				Msg("Document matched template")
			return exact, nil
		}
		log.Warn().Err(terr).Str("template_id", t.ID).Msg("Matched template does not fit the document, falling back to oracle")
		bypassed = fmt.Sprintf("exact match %q bypassed: %v", t.ID, terr)
	}

	if a.semantic == nil {
		return withBypass(Failure(NoMatchError(errors.New("no semantic oracle configured"))), bypassed), nil
	}

	match, err := a.semantic.Match(logger.WithContext(ctx, log), doc, grid, tpls)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Semantic fallback failed")
		return withBypass(Failure(NoMatchError(err)), bypassed), nil
	}

	res = withBypass(a.synth.fromGuess(grid, match), bypassed)
	if res.TemplateID != "" {
		a.recordMatch(ctx, res.TemplateID)
	}
	log.Info().
		Str("template_id", res.TemplateID).
		Str("layer", string(LayerSemantic)).
		Float64("confidence", res.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("Document mapped by oracle")
	return res, nil
}

// Health reports liveness. It never touches the registry or the oracle.
func (a *Analyzer) Health() Health {
	return Health{Status: "healthy", Service: logger.ServiceName}
}

// OracleName identifies the Layer-2 backend, or "" when none is configured.
func (a *Analyzer) OracleName() string {
	if a.semantic == nil {
		return ""
	}
	return a.semantic.oracle.Name()
}

// withBypass prefixes res.Reasoning with the reason a Layer-1 template was
// skipped. An empty note leaves res unchanged.
func withBypass(res *AnalysisResult, note string) *AnalysisResult {
	switch {
	case note == "":
	case res.Reasoning == "":
		res.Reasoning = note
	default:
		res.Reasoning = note + "; " + res.Reasoning
	}
	return res
}

// recordMatch bumps the template's match count. Failures are logged and
// never change the analysis outcome.
func (a *Analyzer) recordMatch(ctx context.Context, id string) {
	log := a.logger(ctx)
	if rec, ok := a.source.(interface{ RecordMatch(string) error }); ok {
		if err := rec.RecordMatch(id); err != nil {
			log.Warn().Err(err).Str("template_id", id).Msg("Failed to record match in registry")
		}
	}
	if a.recorder != nil {
		if err := a.recorder.IncrementMatchCount(ctx, id); err != nil {
			log.Warn().Err(err).Str("template_id", id).Msg("Failed to persist match count")
		}
	}
}

func (a *Analyzer) logger(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(logger.LoggerKey).(zerolog.Logger); ok {
			return l
		}
	}
	return a.log
}
