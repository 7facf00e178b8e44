// Package contracts pins the JSON wire shape of behavior evidence and risk
// verdicts with embedded JSON Schemas.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

type Name string

const (
	BehaviorEvidence Name = "behavior_evidence"
	RiskSynthesis    Name = "risk_synthesis"
)

var names = []Name{BehaviorEvidence, RiskSynthesis}

var (
	compileOnce sync.Once
	compiled    map[Name]*jsonschema.Schema
	compileErr  error
)

func schemaURL(n Name) string {
	return "https://supravault.local/schemas/" + string(n) + ".schema.json"
}

// Raw returns the embedded schema document.
func Raw(n Name) ([]byte, error) {
	return schemaFS.ReadFile("schemas/" + string(n) + ".schema.json")
}

func load() (map[Name]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		out := make(map[Name]*jsonschema.Schema, len(names))
		for _, n := range names {
			data, err := Raw(n)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", n, err)
				return
			}
			if err := compiler.AddResource(schemaURL(n), bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", n, err)
				return
			}
		}
		for _, n := range names {
			s, err := compiler.Compile(schemaURL(n))
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", n, err)
				return
			}
			out[n] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// ValidateJSON checks raw bytes against the named contract.
func ValidateJSON(n Name, data []byte) error {
	schemas, err := load()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "load contracts")
	}
	schema, ok := schemas[n]
	if !ok {
		return errors.Newf(errors.CodeValidationError, "unknown contract %q", n)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return errors.Wrap(err, errors.CodeDecode, "decode contract instance")
	}
	if err := schema.Validate(instance); err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeValidationError, "contract violation"),
			errors.CtxOperation, string(n),
		)
	}
	return nil
}

func validateValue(n Name, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode contract instance")
	}
	return ValidateJSON(n, data)
}

func ValidateBehavior(ev model.BehaviorEvidence) error {
	return validateValue(BehaviorEvidence, ev)
}

func ValidateRisk(r model.RiskSynthesis) error {
	return validateValue(RiskSynthesis, r)
}
