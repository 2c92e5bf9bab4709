package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/annzust/cv-matcher/internal/ai"
	"github.com/annzust/cv-matcher/internal/fileio"
	"github.com/annzust/cv-matcher/internal/utils"
)

const (
	PlaceholderJobDescription = "{{JD_TEXT}}"
	PlaceholderCandidate      = "{{CV_TEXT}}"

	defaultMaxLogLength = 200
)

//go:embed prompt.md
var defaultPromptTemplate string

// ErrTemplatePlaceholder is returned for prompt templates that do not reference both inputs.
var ErrTemplatePlaceholder = errors.New("prompt template must contain " + PlaceholderJobDescription + " and " + PlaceholderCandidate)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Evaluator renders the prompt for a candidate, keeps an audit copy of it and
// turns the model answer into an ai.Record.
type Evaluator struct {
	generator contentGenerator
	replacer  func(jd, cv string) string
	maxLogLen int
	logger    *zap.Logger
}

var _ ai.Evaluator = (*Evaluator)(nil)

// DefaultPromptTemplate returns the built-in prompt.
func DefaultPromptTemplate() string {
	return defaultPromptTemplate
}

// NewEvaluator validates the template and builds an Evaluator. An empty
// template selects the built-in one.
func NewEvaluator(generator contentGenerator, template string, maxLogLength int, logger *zap.Logger) (*Evaluator, error) {
	if generator == nil {
		return nil, errors.New("content generator is required")
	}

	if strings.TrimSpace(template) == "" {
		template = defaultPromptTemplate
	}

	if !strings.Contains(template, PlaceholderJobDescription) || !strings.Contains(template, PlaceholderCandidate) {
		return nil, ErrTemplatePlaceholder
	}

	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Evaluator{
		generator: generator,
		replacer:  templateReplacer(template),
		maxLogLen: maxLogLength,
		logger:    logger,
	}, nil
}

// Evaluate implements ai.Evaluator. The rendered prompt is written to
// promptAuditPath before the model is called.
func (e *Evaluator) Evaluate(ctx context.Context, jobDescription, candidateText, promptAuditPath string) (ai.Record, error) {
	prompt := e.replacer(jobDescription, candidateText)

	if err := fileio.WriteText(promptAuditPath, prompt); err != nil {
		return nil, fmt.Errorf("store prompt audit: %w", err)
	}

	e.logger.Debug("gemini generate content request",
		zap.String("prompt_audit", promptAuditPath),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
	)

	raw, err := e.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, e.maxLogLen)),
	)

	record, err := parseResponse(raw)
	if err != nil {
		e.logger.Warn("failed to read JSON from the model response",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return ai.NewErrorRecord(raw), nil
	}

	return record, nil
}

// templateReplacer substitutes both placeholders in a single pass, so
// placeholder-looking text inside the inputs is left alone.
func templateReplacer(template string) func(jd, cv string) string {
	return func(jd, cv string) string {
		return strings.NewReplacer(
			PlaceholderJobDescription, jd,
			PlaceholderCandidate, cv,
		).Replace(template)
	}
}

func parseResponse(raw string) (ai.Record, error) {
	dec := json.NewDecoder(strings.NewReader(extractJSON(raw)))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse gemini response: unexpected data after JSON value")
	}

	object, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse gemini response: expected JSON object, got %T", data)
	}

	return ai.Record(object), nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
