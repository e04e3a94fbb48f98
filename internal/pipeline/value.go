package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Value is one argument slot of a pipeline step: either a literal, a
// reference to a pipeline parameter, or a reference to a property of an
// upstream step. References render as the platform's substitution node,
//
//	{"Get": "Parameters.TrainRatio"}
//	{"Get": "Steps.preprocess.ProcessingOutputConfig.Outputs['train'].S3Output.S3Uri"}
//
// and are resolved by the platform's orchestrator at execution time.
type Value struct {
	literal interface{}
	ref     string
}

// String makes a literal string value.
func String(s string) Value { return Value{literal: s} }

// Int makes a literal integer value.
func Int(i int) Value { return Value{literal: i} }

// Float makes a literal float value.
func Float(f float64) Value { return Value{literal: f} }

// Param references a pipeline parameter by name.
func Param(name string) Value {
	return Value{ref: "Parameters." + name}
}

// StepProperty references a property of an upstream step, using the
// platform's property path syntax.
func StepProperty(step, path string) Value {
	return Value{ref: "Steps." + step + "." + path}
}

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool {
	return v.literal == nil && v.ref == ""
}

// MarshalJSON implements the json.Marshaler interface.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.ref != "" {
		return json.Marshal(map[string]string{"Get": v.ref})
	}
	if v.literal == nil {
		return nil, errors.New("cannot render an unset value")
	}
	return json.Marshal(v.literal)
}

// paramName extracts the referenced parameter name, if the value is a
// parameter reference.
func (v Value) paramName() (string, bool) {
	name, ok := strings.CutPrefix(v.ref, "Parameters.")
	return name, ok && name != ""
}

// stepRef extracts the referenced step name and property path, if the value
// is a step property reference.
func (v Value) stepRef() (step, path string, ok bool) {
	rest, ok := strings.CutPrefix(v.ref, "Steps.")
	if !ok {
		return "", "", false
	}
	step, path, ok = strings.Cut(rest, ".")
	if !ok || step == "" || path == "" {
		return "", "", false
	}
	return step, path, true
}
