package substrate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lexibase/lexibase/internal/apperr"
)

// schemaValidator compiles caller-supplied JSON schemas and validates LLM
// payloads against them. Compiled schemas are cached by content hash so a hot
// task pays compilation once.
type schemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// compile returns the compiled form of schemaJSON, building it on first use.
func (v *schemaValidator) compile(schemaJSON []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schemaJSON)
	key := hex.EncodeToString(sum[:])

	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[key]; ok {
		return s, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("substrate: unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("substrate: add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("substrate: compile schema: %w", err)
	}

	v.compiled[key] = schema
	return schema, nil
}

// validate checks payload against schemaJSON. A payload that is not valid
// JSON, or that does not conform, surfaces as apperr.SchemaValidationError;
// such failures must not be retried.
func (v *schemaValidator) validate(schemaJSON, payload []byte) error {
	schema, err := v.compile(schemaJSON)
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &apperr.SchemaValidationError{Details: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &apperr.SchemaValidationError{Details: err.Error()}
	}
	return nil
}
