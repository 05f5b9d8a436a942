package generation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"casegen/pkg/apperr"
	"casegen/pkg/render"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultSummaryExcerpt = 1500
	defaultCodeExcerpt    = 3000
	defaultPromptBudget   = 15000
	defaultMaxSummaries   = 5

	summarySystem = "You are a senior test engineer. Answer with a JSON array of test summaries and nothing else."
	codeSystem    = "You are an expert software engineer who writes precise, runnable automated tests. Answer with the test file only."
)

var fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "casegen",
	Subsystem: "generation",
	Name:      "fallbacks_total",
	Help:      "Deterministic fallbacks used instead of backend output.",
}, []string{"operation", "reason"})

var tracer = otel.Tracer("casegen/services/generation")

// Gateway produces summaries and code, using Backend when available.
type Gateway struct {
	backend        Backend
	engine         *render.Engine
	logger         zerolog.Logger
	timeout        time.Duration
	summaryExcerpt int
	codeExcerpt    int
	promptBudget   int
	maxSummaries   int
	summaryParams  Params
	codeParams     Params
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBackend sets the text-generation backend. Without one every call uses the fallback.
func WithBackend(b Backend) Option {
	return func(g *Gateway) { g.backend = b }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithExcerptLimits sets per-file character limits for summary and code prompts.
func WithExcerptLimits(summary, code int) Option {
	return func(g *Gateway) {
		if summary > 0 {
			g.summaryExcerpt = summary
		}
		if code > 0 {
			g.codeExcerpt = code
		}
	}
}

// WithParams sets the backend tuning for summary and code calls. An empty
// System keeps the built-in instruction for that call.
func WithParams(summary, code Params) Option {
	return func(g *Gateway) {
		g.summaryParams = mergeParams(g.summaryParams, summary)
		g.codeParams = mergeParams(g.codeParams, code)
	}
}

// Tuning builds Params with a sampling temperature and a completion token cap.
func Tuning(temperature float32, maxTokens int) Params {
	return Params{Temperature: &temperature, MaxTokens: &maxTokens}
}

func mergeParams(base, override Params) Params {
	if override.System != "" {
		base.System = override.System
	}
	if override.Temperature != nil {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens != nil {
		base.MaxTokens = override.MaxTokens
	}
	return base
}

// NewGateway builds a Gateway rendering prompts and skeletons with engine.
func NewGateway(engine *render.Engine, opts ...Option) (*Gateway, error) {
	if engine == nil {
		return nil, errors.New("render engine is required")
	}
	if missing := missingTemplates(engine); len(missing) > 0 {
		return nil, fmt.Errorf("render engine lacks templates: %s", strings.Join(missing, ", "))
	}
	g := &Gateway{
		engine:         engine,
		logger:         zerolog.Nop(),
		timeout:        defaultTimeout,
		summaryExcerpt: defaultSummaryExcerpt,
		codeExcerpt:    defaultCodeExcerpt,
		promptBudget:   defaultPromptBudget,
		maxSummaries:   defaultMaxSummaries,
		summaryParams:  withSystem(summarySystem, Tuning(0.7, 1500)),
		codeParams:     withSystem(codeSystem, Tuning(0.3, 2000)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "generation").Logger()
	return g, nil
}

const (
	summariesPrompt = "summaries_prompt.tmpl"
	codePrompt      = "code_prompt.tmpl"
)

func missingTemplates(engine *render.Engine) []string {
	names := []string{summariesPrompt, codePrompt}
	for _, tc := range toolchains {
		names = append(names, tc.template)
	}
	sort.Strings(names)

	var missing []string
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		if !engine.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func withSystem(system string, p Params) Params {
	p.System = system
	return p
}

type promptFile struct {
	Path      string
	Language  string
	Excerpt   string
	Truncated bool
}

// Summarize proposes test summaries for files. Backend errors, timeouts and
// unparseable responses are logged and answered with FallbackSummaries.
func (g *Gateway) Summarize(ctx context.Context, files []FileContent, primaryLanguage string) ([]TestSummary, error) {
	const op = "generation.Summarize"
	if len(files) == 0 {
		return nil, apperr.Validation(op, "at least one file required")
	}
	if primaryLanguage == "" {
		primaryLanguage = defaultLanguage
	}
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.Int("files", len(files)), attribute.String("language", primaryLanguage))
	defer span.End()

	if g.backend == nil {
		fallbacks.WithLabelValues("summarize", "disabled").Inc()
		return FallbackSummaries(files, primaryLanguage), nil
	}

	prompt, err := g.engine.Render(summariesPrompt, map[string]any{
		"PrimaryLanguage": primaryLanguage,
		"MaxSummaries":    g.maxSummaries,
		"Files":           g.excerpts(files, g.summaryExcerpt),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	response, err := g.call(ctx, prompt, g.summaryParams)
	if err != nil {
		span.RecordError(err)
		g.logFailure(op, err)
		fallbacks.WithLabelValues("summarize", string(apperr.KindOf(err))).Inc()
		return FallbackSummaries(files, primaryLanguage), nil
	}

	summaries, err := ParseSummaries(response, files, primaryLanguage)
	if err != nil {
		span.SetStatus(codes.Error, "unparseable response")
		g.logger.Warn().Err(err).Int("response_bytes", len(response)).Msg("generation response could not be parsed; using fallback summaries")
		fallbacks.WithLabelValues("summarize", string(apperr.KindParse)).Inc()
		return FallbackSummaries(files, primaryLanguage), nil
	}
	if len(summaries) > g.maxSummaries {
		summaries = summaries[:g.maxSummaries]
	}
	return summaries, nil
}

// GenerateCode writes test source for summary. It falls back to a rendered
// skeleton when the backend fails or returns nothing.
func (g *Gateway) GenerateCode(ctx context.Context, summary TestSummary, files []FileContent, language string) (Artifact, error) {
	const op = "generation.GenerateCode"
	if summary.Title == "" {
		return Artifact{}, apperr.Validation(op, "summary is required")
	}
	if language == "" {
		language = dominantLanguage(files, defaultLanguage)
	}
	framework := summary.Framework
	if framework == "" {
		framework = FrameworkFor(language)
	}
	artifact := Artifact{
		FileName:  FileName(summary.Title, language),
		Framework: framework,
		Language:  language,
	}

	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.String("summary", summary.ID), attribute.String("language", language))
	defer span.End()

	reason := "disabled"
	if g.backend != nil {
		prompt, err := g.engine.Render(codePrompt, map[string]any{
			"Language": language,
			"Summary":  summary,
			"Files":    g.excerpts(covered(summary, files), g.codeExcerpt),
		})
		if err != nil {
			return Artifact{}, apperr.Wrap(apperr.KindInternal, op, err)
		}
		response, err := g.call(ctx, prompt, g.codeParams)
		code := unwrapFence(response)
		switch {
		case err != nil:
			span.RecordError(err)
			g.logFailure(op, err)
			reason = string(apperr.KindOf(err))
		case strings.TrimSpace(code) == "":
			g.logger.Warn().Str("summary", summary.ID).Msg("generation backend returned empty code; using fallback skeleton")
			reason = "empty"
		default:
			artifact.Code = code
			return artifact, nil
		}
	}

	fallbacks.WithLabelValues("generate_code", reason).Inc()
	code, err := FallbackCode(g.engine, summary, language)
	if err != nil {
		return Artifact{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	artifact.Code = code
	artifact.Fallback = true
	return artifact, nil
}

func (g *Gateway) call(ctx context.Context, prompt string, params Params) (string, error) {
	const op = "generation.Backend"
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.backend.Generate(ctx, prompt, params)
	g.logger.Debug().Dur("duration", time.Since(start)).Int("prompt_bytes", len(prompt)).Err(err).Msg("generation backend call")
	if err != nil {
		if t := apperr.FromContext(apperr.BackendGeneration, op, err); t != nil {
			return "", t
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.Timeout(apperr.BackendGeneration, op, err)
		}
		return "", apperr.Upstream(apperr.BackendGeneration, op, err)
	}
	return out, nil
}

func (g *Gateway) logFailure(op string, err error) {
	g.logger.Warn().Err(err).Str("op", op).Str("kind", string(apperr.KindOf(err))).Msg("generation backend failed; using fallback")
}

// excerpts truncates each file to limit runes and stops adding content once
// the overall prompt budget is spent.
func (g *Gateway) excerpts(files []FileContent, limit int) []promptFile {
	budget := g.promptBudget
	out := make([]promptFile, 0, len(files))
	for _, f := range files {
		n := limit
		if n > budget {
			n = budget
		}
		excerpt, truncated := truncateRunes(f.Content, n)
		budget -= utf8.RuneCountInString(excerpt)
		out = append(out, promptFile{Path: f.Path, Language: f.Language, Excerpt: excerpt, Truncated: truncated})
	}
	return out
}

func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

func covered(summary TestSummary, files []FileContent) []FileContent {
	want := make(map[string]struct{}, len(summary.Files))
	for _, name := range summary.Files {
		want[name] = struct{}{}
	}
	var out []FileContent
	for _, f := range files {
		if _, ok := want[path.Base(f.Path)]; ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return files
	}
	return out
}
