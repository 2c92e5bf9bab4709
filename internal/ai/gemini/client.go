package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = float32(0.3)

	responseMIMEType = "application/json"
)

// modelsAPI is the part of genai.Models the generator relies on.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeneratorConfig is the explicit configuration of a single run's model client.
type GeneratorConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	// RequestTimeout bounds one GenerateContent call. Zero means no timeout.
	RequestTimeout time.Duration
}

// Generator wraps the Google GenAI client and asks for JSON output.
type Generator struct {
	models      modelsAPI
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("gemini temperature must be within [0, 2], got %v", cfg.Temperature)
	}

	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("gemini request timeout must not be negative, got %s", cfg.RequestTimeout)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, cfg, logger), nil
}

func newGenerator(models modelsAPI, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		models:      models,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.RequestTimeout,
		logger:      logger,
	}
}

// GenerateContent sends the prompt as a single turn and returns the text of
// the first candidate. There is exactly one attempt.
func (g *Generator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt must not be empty")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	temperature := g.temperature
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: responseMIMEType,
	}

	started := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	output, finishReason, ok := responseText(resp)

	fields := []zap.Field{
		zap.Duration("elapsed", time.Since(started)),
		zap.String("finish_reason", finishReason),
	}
	if resp != nil && resp.UsageMetadata != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("response_tokens", resp.UsageMetadata.CandidatesTokenCount),
		)
	}
	g.logger.Debug("gemini generate content finished", fields...)

	// A blank answer is returned as is; the evaluator stores it as an error record.
	if !ok {
		return "", errors.New("gemini api returned no candidates")
	}

	return output, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, string, bool) {
	if resp == nil {
		return "", "", false
	}

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}

		var builder strings.Builder
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			builder.WriteString(part.Text)
		}

		return builder.String(), string(candidate.FinishReason), true
	}

	return "", "", false
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}
