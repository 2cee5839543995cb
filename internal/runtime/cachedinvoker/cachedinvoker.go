// Package cachedinvoker decides cache eligibility, fetches-or-fills via
// cache.Store, and calls through to invoker.Invoker (spec §4.5).
package cachedinvoker

import (
	"context"
	"net/http"

	"github.com/fnrelay/lambdagate/internal/runtime/cache"
	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/invoker"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
	"github.com/fnrelay/lambdagate/internal/runtime/router"
)

// Agent composes cache eligibility, key computation, and invocation.
type Agent struct {
	cacheStore  cache.Store
	invoker     invoker.Invoker
	cachePrefix string
}

// New builds the CachedInvoker agent. cacheStore may be nil, meaning
// caching is globally disabled (spec §6: "redisUrl absent → caching
// disabled" generalizes to "no store configured").
func New(cacheStore cache.Store, inv invoker.Invoker, cachePrefix string) *Agent {
	return &Agent{cacheStore: cacheStore, invoker: inv, cachePrefix: cachePrefix}
}

// Name identifies the agent for pipeline diagnostics.
func (a *Agent) Name() string { return "cached_invoker" }

// Execute computes cache eligibility, builds the invoke payload, and
// resolves a BackendResponse either from cache.Store or a direct invoke
// call, stashing the result on state for ResponseShaper to normalize.
func (a *Agent) Execute(ctx context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	spec := state.LambdaSpec()
	if spec == nil {
		state.SetError(gatewayerr.Internal("cached_invoker: no lambda resolved", nil))
		return pipeline.Result{Name: a.Name(), Status: "error"}
	}

	vars := state.TemplateContext()
	payload := buildPayload(spec, state)

	fill := func(fillCtx context.Context) (any, error) {
		return a.invoker.Invoke(fillCtx, spec.Name, payload, spec.EffectiveVersion())
	}

	eligible, key := a.resolveCacheEligibility(spec, vars)

	var (
		value any
		hit   bool
		err   error
	)
	if eligible {
		namespace := state.Request.Host
		fullKey := a.cachePrefix + key
		value, hit, err = a.cacheStore.Get(ctx, namespace, fullKey, fill)
	} else {
		value, err = fill(ctx)
	}
	if err != nil {
		state.SetError(gatewayerr.Internal("backend invocation failed", err))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}

	state.SetBackendPayload(value)
	state.Invoke = pipeline.InvokeState{Requested: true, FromCache: hit, CacheHit: hit}
	state.Cache = pipeline.CacheState{Eligible: eligible, Key: key, Hit: hit}

	return pipeline.Result{Name: a.Name(), Status: "ok", Meta: map[string]any{"cacheHit": hit, "cacheEligible": eligible}}
}

// resolveCacheEligibility implements spec §4.5's eligibility contract:
// cacheStore != nil AND lambda.cache != nil AND evaluate(cache.enabled).
// If eligible, evaluate cache.key; a non-string result disables caching
// for this request rather than erroring.
func (a *Agent) resolveCacheEligibility(spec *router.LambdaSpec, vars map[string]any) (bool, string) {
	if a.cacheStore == nil || spec.Cache == nil {
		return false, ""
	}
	enabled, err := spec.Cache.Enabled.EvaluateBool(vars)
	if err != nil || !enabled {
		return false, ""
	}
	key, ok, err := spec.Cache.Key.EvaluateString(vars)
	if err != nil || !ok {
		return false, ""
	}
	return true, key
}

// buildPayload implements spec §4.5's payload construction: paramsOnly
// routes send the merged parameter map (client params win); otherwise the
// full request envelope is sent with params merged the same way.
func buildPayload(spec *router.LambdaSpec, state *pipeline.State) any {
	merged := mergeParams(spec.Defaults.RequestParams, state.Request.Params)
	if spec.ParamsOnly {
		return merged
	}
	return map[string]any{
		"method":  state.Request.Method,
		"headers": state.Request.Headers,
		"body":    state.Request.Body,
		"params":  merged,
		"uri":     state.Request.URI,
	}
}

// mergeParams merges defaults under client-supplied params, client values
// winning on key collision (spec §4.5, §3). A plain override loop is used
// rather than mergo.Merge: mergo treats a zero value (e.g. ?width=0) as
// absent and would let the default win, but a client-supplied zero must
// still override.
func mergeParams(defaults, clientParams map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(clientParams))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range clientParams {
		merged[k] = v
	}
	return merged
}
