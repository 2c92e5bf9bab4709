package ai

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed record.schema.json
var recordSchema string

// ErrSchemaViolation wraps every validation failure returned by Validate.
var ErrSchemaViolation = errors.New("record does not match schema")

var recordSchemaLoader = gojsonschema.NewStringLoader(recordSchema)

// Validate checks a successful record against the expected verdict shape.
// Error sentinels are not validated.
func Validate(r Record) error {
	if r.IsError() {
		return nil
	}

	res, err := gojsonschema.Validate(recordSchemaLoader, gojsonschema.NewGoLoader(map[string]any(r)))
	if err != nil {
		return fmt.Errorf("validate record: %w", err)
	}

	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}
