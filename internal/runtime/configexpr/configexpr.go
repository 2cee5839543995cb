// Package configexpr models the "literal or function of args" configuration
// fields spec.md names (lambda.cache.enabled, lambda.cache.key,
// lambda.auth.secret, lambda.auth.token) as a Static(T) | Dynamic(CEL)
// tagged sum, evaluated uniformly against the request's TemplateContext.
package configexpr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment wraps a compiled CEL environment exposing the request context
// variables dynamic fields may reference.
type Environment struct {
	env *cel.Env
}

// NewEnvironment builds the CEL environment used to evaluate dynamic
// LambdaSpec fields. The exposed variables mirror pipeline.State's
// TemplateContext: method, host, headers, body, params, hasExtension, uri,
// url. A "lookup" function mirrors the teacher's nil-safe map accessor.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("body", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("hasExtension", cel.BoolType),
		cel.Variable("uri", cel.StringType),
		cel.Variable("url", cel.MapType(cel.StringType, cel.DynType)),
		// payload is only populated when evaluating auth.secret, which spec
		// §4.4 calls with the token's decoded (unverified) claims.
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("configexpr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Field is the Static(T) | Dynamic(CEL) tagged sum. A zero Field with no
// literal and no expression evaluates to nil (treated as "absent").
type Field struct {
	literal  any
	hasValue bool
	expr     string
	program  cel.Program
}

// StaticField wraps a literal configuration value.
func StaticField(v any) Field { return Field{literal: v, hasValue: true} }

// DynamicField compiles expr as a CEL program evaluated against the request
// context at request time.
func (e *Environment) DynamicField(expr string) (Field, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Field{}, nil
	}
	ast, issues := e.env.Compile(trimmed)
	if issues != nil && issues.Err() != nil {
		return Field{}, fmt.Errorf("configexpr: compile %q: %w", trimmed, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Field{}, fmt.Errorf("configexpr: program %q: %w", trimmed, err)
	}
	return Field{expr: trimmed, program: program}, nil
}

// IsZero reports whether the field carries neither a literal nor an
// expression (i.e. the configuration key was absent).
func (f Field) IsZero() bool { return !f.hasValue && f.program == nil }

// Evaluate resolves the field against vars (typically
// pipeline.State.TemplateContext()). Static fields ignore vars entirely.
func (f Field) Evaluate(vars map[string]any) (any, error) {
	if f.hasValue {
		return f.literal, nil
	}
	if f.program == nil {
		return nil, nil
	}
	val, _, err := f.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("configexpr: eval %q: %w", f.expr, err)
	}
	return val.Value(), nil
}

// EvaluateBool evaluates the field and coerces the result to bool;
// non-boolean results (including nil) are treated as false.
func (f Field) EvaluateBool(vars map[string]any) (bool, error) {
	v, err := f.Evaluate(vars)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// EvaluateString evaluates the field and type-asserts the result to string;
// ok is false when the result is not a string (spec §4.5: "if the result is
// not a string, disable caching for this request").
func (f Field) EvaluateString(vars map[string]any) (string, bool, error) {
	v, err := f.Evaluate(vars)
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("configexpr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found || value == nil {
		return types.NullValue
	}
	return value
}
