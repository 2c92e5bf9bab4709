// Package report renders evaluation records as Markdown documents.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annzust/cv-matcher/internal/ai"
)

const Title = "CV evaluation"

var (
	ErrMissingField = errors.New("required field is missing")
	ErrInvalidField = errors.New("field has unexpected type")
)

// Render formats a successful evaluation record. The section order is fixed:
// title, match score, summary, strengths, missing requirements, verdict.
func Render(r ai.Record) (string, error) {
	score, err := scalar(r, ai.FieldMatchScore)
	if err != nil {
		return "", err
	}

	summary, err := scalar(r, ai.FieldSummary)
	if err != nil {
		return "", err
	}

	strengths, err := list(r, ai.FieldStrengths)
	if err != nil {
		return "", err
	}

	missing, err := list(r, ai.FieldMissingRequirements)
	if err != nil {
		return "", err
	}

	verdict, err := text(r, ai.FieldVerdict)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title)
	fmt.Fprintf(&b, "**Match:** %s%%\n\n", score)
	fmt.Fprintf(&b, "**Summary:** %s\n\n", summary)

	b.WriteString("## Strengths:\n")
	writeBullets(&b, strengths)

	b.WriteString("\n## Missing requirements:\n")
	writeBullets(&b, missing)

	fmt.Fprintf(&b, "\n**Verdict:** **%s**\n", strings.ToUpper(verdict))

	return b.String(), nil
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func lookup(r ai.Record, key string) (any, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

func scalar(r ai.Record, key string) (string, error) {
	v, err := lookup(r, key)
	if err != nil {
		return "", err
	}

	switch v.(type) {
	case []any, []string, map[string]any:
		return "", fmt.Errorf("%w: %s must be a scalar, got %T", ErrInvalidField, key, v)
	}

	return fmt.Sprint(v), nil
}

func text(r ai.Record, key string) (string, error) {
	v, err := lookup(r, key)
	if err != nil {
		return "", err
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidField, key, v)
	}
	return s, nil
}

func list(r ai.Record, key string) ([]string, error) {
	v, err := lookup(r, key)
	if err != nil {
		return nil, err
	}

	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrInvalidField, key, v)
	}
}
