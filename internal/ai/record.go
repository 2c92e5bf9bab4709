package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const (
	FieldMatchScore          = "match_score"
	FieldSummary             = "summary"
	FieldStrengths           = "strengths"
	FieldMissingRequirements = "missing_requirements"
	FieldVerdict             = "verdict"
	FieldError               = "error"
	FieldRaw                 = "raw"
)

// ErrErrorRecord is returned when a typed view is requested for an error sentinel.
var ErrErrorRecord = errors.New("record is an error sentinel")

// Record is the evaluation produced by the model for one candidate.
// It is kept as a generic mapping so that whatever the model returned is
// persisted unchanged.
type Record map[string]any

// Evaluator compares a candidate against a job description.
// Parse problems with the model output are reported through an error
// sentinel record; the returned error is reserved for failures that
// should stop the run.
type Evaluator interface {
	Evaluate(ctx context.Context, jobDescription, candidateText, promptAuditPath string) (Record, error)
}

// Assessment is a typed view of a successful Record.
type Assessment struct {
	MatchScore          float64  `mapstructure:"match_score"`
	Summary             string   `mapstructure:"summary"`
	Strengths           []string `mapstructure:"strengths"`
	MissingRequirements []string `mapstructure:"missing_requirements"`
	Verdict             string   `mapstructure:"verdict"`
}

// NewErrorRecord builds the sentinel stored when the model response can not be parsed.
func NewErrorRecord(raw string) Record {
	return Record{
		FieldError: true,
		FieldRaw:   raw,
	}
}

// IsError reports whether the record carries an error marker.
func (r Record) IsError() bool {
	_, ok := r[FieldError]
	return ok
}

// Raw returns the raw model response stored in an error sentinel.
func (r Record) Raw() string {
	raw, _ := r[FieldRaw].(string)
	return raw
}

// Assessment decodes the record into its typed form.
func (r Record) Assessment() (*Assessment, error) {
	if r.IsError() {
		return nil, ErrErrorRecord
	}

	var assessment Assessment
	cfg := &mapstructure.DecoderConfig{
		Result:           &assessment,
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(map[string]any(r)); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	return &assessment, nil
}
