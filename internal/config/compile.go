package config

import (
	"fmt"

	"github.com/fnrelay/lambdagate/internal/runtime/configexpr"
	"github.com/fnrelay/lambdagate/internal/runtime/router"
	"github.com/fnrelay/lambdagate/internal/templates"
)

// Compile converts the as-loaded route table into an immutable
// router.Table, compiling every dynamic field against env (spec §9's
// Static(T) | Dynamic(CEL-expression) discrimination). renderer compiles
// any per-route forbiddenMessage template; pass nil to disable that
// enrichment entirely.
func Compile(env *configexpr.Environment, renderer *templates.Renderer, lambdas map[string]RawLambdaSpec) (*router.Table, error) {
	patterns := make([]string, 0, len(lambdas))
	compiled := make(map[string]*router.LambdaSpec, len(lambdas))
	for pattern, raw := range lambdas {
		spec, err := compileLambda(env, renderer, raw)
		if err != nil {
			return nil, fmt.Errorf("lambda %q: %w", pattern, err)
		}
		patterns = append(patterns, pattern)
		compiled[pattern] = spec
	}
	return router.NewTable(patterns, compiled), nil
}

func compileLambda(env *configexpr.Environment, renderer *templates.Renderer, raw RawLambdaSpec) (*router.LambdaSpec, error) {
	cacheSpec, err := compileCacheSpec(env, raw.Cache)
	if err != nil {
		return nil, err
	}
	authSpec, err := CompileAuth(env, renderer, raw.Auth)
	if err != nil {
		return nil, err
	}

	var base64Default *bool
	if raw.Defaults.ResponseBase64 != nil {
		v := *raw.Defaults.ResponseBase64
		base64Default = &v
	}

	return &router.LambdaSpec{
		Name:       raw.Name,
		Version:    raw.EffectiveVersion(),
		ParamsOnly: raw.ParamsOnly,
		Defaults: router.Defaults{
			RequestParams:   raw.Defaults.RequestParams,
			ResponseHeaders: raw.Defaults.ResponseHeaders,
			ResponseBase64:  base64Default,
		},
		Cache: cacheSpec,
		Auth:  authSpec,
	}, nil
}

func compileCacheSpec(env *configexpr.Environment, raw *RawCacheSpec) (*router.CacheSpec, error) {
	if raw == nil {
		return nil, nil
	}
	enabled, key, err := CompileCache(env, raw)
	if err != nil {
		return nil, err
	}
	return &router.CacheSpec{Enabled: enabled, Key: key}, nil
}

// CompileAuth converts a RawLambdaSpec.Auth value into a *router.AuthSpec.
// A nil or false auth means "no auth" (nil result). A truthy non-object
// value compiles to a spec flagged NonObject so the Authenticator can fail
// the request at runtime with spec §4.4's literal "auth should be an
// object" configuration error, rather than rejecting the whole process at
// load time.
func CompileAuth(env *configexpr.Environment, renderer *templates.Renderer, raw any) (*router.AuthSpec, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return &router.AuthSpec{NonObject: true}, nil
	case map[string]any:
		return compileAuthObject(env, renderer, v)
	default:
		return &router.AuthSpec{NonObject: true}, nil
	}
}

func compileAuthObject(env *configexpr.Environment, renderer *templates.Renderer, raw map[string]any) (*router.AuthSpec, error) {
	secret, err := compileField(env, raw["secret"])
	if err != nil {
		return nil, fmt.Errorf("auth.secret: %w", err)
	}
	token, err := compileField(env, raw["token"])
	if err != nil {
		return nil, fmt.Errorf("auth.token: %w", err)
	}

	var forbiddenMessage *templates.Template
	if renderer != nil {
		if msg, ok := raw["forbiddenMessage"].(string); ok && msg != "" {
			tmpl, err := renderer.CompileInline("auth.forbiddenMessage", msg)
			if err != nil {
				return nil, fmt.Errorf("auth.forbiddenMessage: %w", err)
			}
			forbiddenMessage = tmpl
		}
	}

	return &router.AuthSpec{
		AllowedFields:    toStringSlice(raw["allowedFields"]),
		Secret:           secret,
		Token:            token,
		Options:          toStringAnyMap(raw["options"]),
		RequiredRoles:    toStringSlice(raw["requiredRoles"]),
		ForbiddenMessage: forbiddenMessage,
	}, nil
}

func toStringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toStringAnyMap(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	return nil
}
