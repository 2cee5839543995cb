// Package runtime wires the gateway's pipeline stages together per spec
// §4.9: RequestParser, (Router | CacheAdmin), Authenticator, CachedInvoker,
// ResponseShaper, Responder.
package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"log/slog"

	"github.com/fnrelay/lambdagate/internal/metrics"
	"github.com/fnrelay/lambdagate/internal/runtime/cache"
	"github.com/fnrelay/lambdagate/internal/runtime/cacheadmin"
	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
	"github.com/fnrelay/lambdagate/internal/runtime/requestparser"
	"github.com/fnrelay/lambdagate/internal/runtime/responder"
	"github.com/fnrelay/lambdagate/internal/runtime/router"
)

const cachePath = "/cache"

// Options bundles the constructed collaborators a Pipeline needs. Agents
// are interchangeable (pipeline.Agent) so tests can substitute fakes.
type Options struct {
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
	CorrelationHeader string

	RequestParser  pipeline.Agent
	Authenticator  pipeline.Agent
	CachedInvoker  pipeline.Agent
	ResponseShaper pipeline.Agent

	CacheAdmin *cacheadmin.Handler
	Responder  *responder.Responder

	// CacheStore, when non-nil, is pinged by ServeHealth to report cache
	// reachability (SPEC_FULL.md §4's /healthz). Nil means caching is
	// disabled for this gateway, which /healthz reports rather than errors.
	CacheStore cache.Store
	// ExplainEnabled gates ServeExplain (SPEC_FULL.md §4's debug-only
	// /explain), mirroring config.DebugConfig.Explain.
	ExplainEnabled bool
}

// Pipeline orchestrates one request through every stage named in spec
// §4.9, holding an atomically-swappable route Table for hot reload.
type Pipeline struct {
	logger  *slog.Logger
	metrics *metrics.Recorder

	requestParser  pipeline.Agent
	authenticator  pipeline.Agent
	cachedInvoker  pipeline.Agent
	responseShaper pipeline.Agent
	cacheAdmin     *cacheadmin.Handler
	responder      *responder.Responder

	cacheStore     cache.Store
	explainEnabled bool

	correlationHeader string

	table atomic.Pointer[router.Table]
}

// New constructs a Pipeline bound to the initial route table.
func New(table *router.Table, opts Options) *Pipeline {
	if opts.RequestParser == nil {
		opts.RequestParser = requestparser.New()
	}
	p := &Pipeline{
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		requestParser:     opts.RequestParser,
		authenticator:     opts.Authenticator,
		cachedInvoker:     opts.CachedInvoker,
		responseShaper:    opts.ResponseShaper,
		cacheAdmin:        opts.CacheAdmin,
		responder:         opts.Responder,
		cacheStore:        opts.CacheStore,
		explainEnabled:    opts.ExplainEnabled,
		correlationHeader: opts.CorrelationHeader,
	}
	p.table.Store(table)
	return p
}

// Reload swaps in a freshly compiled route table (config hot-reload).
func (p *Pipeline) Reload(table *router.Table) {
	p.table.Store(table)
}

// ServeHTTP implements spec §4.9's per-request orchestration.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Step 1: OPTIONS/favicon fast path, ahead of any parsing.
	if r.Method == http.MethodOptions || r.URL.Path == "/favicon.ico" {
		w.WriteHeader(http.StatusOK)
		return
	}

	correlationID := p.correlationID(r)
	ctx := r.Context()

	state := pipeline.NewState(correlationID)

	// Step 2: parse the request. A parse failure short-circuits to
	// Responder immediately since nothing downstream has valid input.
	p.requestParser.Execute(ctx, r, state)
	if err := state.Err(); err != nil {
		p.finish(ctx, w, r, correlationID, state, start, "")
		return
	}

	// Step 3: cache-admin detection.
	cacheRequest := r.Method == http.MethodPost && state.Request.URI == cachePath
	state.Route.CacheAdmin = cacheRequest

	// Step 4: route resolution (skipped for cache-admin requests).
	var lambdaName string
	if !cacheRequest {
		table := p.table.Load()
		if table != nil {
			spec, pattern, ok := table.Resolve(state.Request.URI)
			if ok {
				state.Route.Matched = true
				state.Route.Pattern = pattern
				state.Route.LambdaName = spec.Name
				state.SetLambdaSpec(spec)
				lambdaName = spec.Name
			}
		}
	}

	// Step 5: neither lambda nor cache-admin matched.
	if !cacheRequest && !state.Route.Matched {
		state.SetError(gatewayerr.NotFound("no route matched " + state.Request.URI))
		p.finish(ctx, w, r, correlationID, state, start, lambdaName)
		return
	}

	// Step 6: cache-admin side channel.
	if cacheRequest {
		result, err := p.cacheAdmin.Handle(ctx, r)
		if err != nil {
			state.SetError(err)
		} else {
			state.Response = pipeline.ResponseState{
				Status:  http.StatusOK,
				Body:    result,
				Headers: map[string]string{},
			}
		}
		p.finish(ctx, w, r, correlationID, state, start, lambdaName)
		return
	}

	// Step 7: authenticator -> cached invoker -> response shaper, each
	// short-circuiting the rest on error.
	for _, agent := range []pipeline.Agent{p.authenticator, p.cachedInvoker, p.responseShaper} {
		agent.Execute(ctx, r, state)
		if state.Err() != nil {
			break
		}
	}

	p.finish(ctx, w, r, correlationID, state, start, lambdaName)
}

func (p *Pipeline) finish(ctx context.Context, w http.ResponseWriter, r *http.Request, correlationID string, state *pipeline.State, start time.Time, lambdaName string) {
	p.responder.Respond(ctx, w, correlationID, state)

	status := state.Response.Status
	if err := state.Err(); err != nil {
		status = gatewayerr.As(err).StatusCode
	}
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.ObserveRequest(labelOr(lambdaName, "unknown"), status, duration)
		if state.Invoke.Requested {
			outcome := "ok"
			if state.Err() != nil {
				outcome = "error"
			}
			p.metrics.ObserveInvocation(labelOr(lambdaName, "unknown"), outcome, duration)
		}
		if state.Cache.Eligible {
			result := metrics.CacheResultMiss
			if state.Cache.Hit {
				result = metrics.CacheResultHit
			}
			p.metrics.ObserveCache(labelOr(lambdaName, "unknown"), result, duration)
		}
	}

	if p.logger != nil {
		p.logger.Info("request completed",
			slog.String("correlation_id", correlationID),
			slog.String("method", r.Method),
			slog.String("uri", state.Request.URI),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.Bool("cache_hit", state.Cache.Hit),
		)
	}
}

func (p *Pipeline) correlationID(r *http.Request) string {
	if p.correlationHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(p.correlationHeader)); v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func labelOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// ServeHealth reports liveness/readiness: cache store reachability and the
// active route table's size and lambda names (SPEC_FULL.md §4, grounded on
// the teacher's ServeHealth).
func (p *Pipeline) ServeHealth(w http.ResponseWriter, r *http.Request) {
	table := p.table.Load()
	routeCount := table.Len()
	names := make([]string, 0, routeCount)
	for _, route := range table.Routes() {
		if route.Lambda != "" {
			names = append(names, route.Lambda)
		}
	}

	status := "ok"
	cacheStatus := "disabled"
	if p.cacheStore != nil {
		if err := p.cacheStore.Ping(r.Context()); err != nil {
			cacheStatus = "unreachable"
			status = "degraded"
		} else {
			cacheStatus = "ok"
		}
	}

	body := map[string]any{
		"status":      status,
		"cache":       cacheStatus,
		"routeCount":  routeCount,
		"lambdaNames": names,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil && p.logger != nil {
		p.logger.Error("healthz encode failed", slog.Any("error", err))
	}
}

// ServeExplain is the debug-only diagnostic endpoint gated by
// config.DebugConfig.Explain: it resolves the current request's route and,
// if the matched lambda requires auth, runs the Authenticator so callers can
// see which role/claims their token would carry, without invoking the
// backend function (SPEC_FULL.md §4, grounded on the teacher's ServeExplain,
// repurposed from admission diagnostics to routing/invocation diagnostics).
func (p *Pipeline) ServeExplain(w http.ResponseWriter, r *http.Request) {
	if !p.explainEnabled {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	state := pipeline.NewState(p.correlationID(r))
	p.requestParser.Execute(ctx, r, state)
	if err := state.Err(); err != nil {
		p.writeExplainError(w, err)
		return
	}

	result := map[string]any{"uri": state.Request.URI}

	table := p.table.Load()
	spec, pattern, ok := table.Resolve(state.Request.URI)
	if !ok {
		result["matched"] = false
		p.writeExplain(w, result)
		return
	}

	result["matched"] = true
	result["pattern"] = pattern
	result["lambda"] = spec.Name

	if spec.Auth != nil && p.authenticator != nil {
		state.SetLambdaSpec(spec)
		p.authenticator.Execute(ctx, r, state)
		if err := state.Err(); err != nil {
			result["auth"] = map[string]any{"decision": "deny", "error": gatewayerr.As(err).Message}
		} else {
			result["auth"] = map[string]any{
				"decision": state.Auth.Decision,
				"role":     state.Auth.Role,
				"claims":   redactClaims(state.Auth.Claims),
			}
		}
	}

	p.writeExplain(w, result)
}

func (p *Pipeline) writeExplain(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil && p.logger != nil {
		p.logger.Error("explain encode failed", slog.Any("error", err))
	}
}

func (p *Pipeline) writeExplainError(w http.ResponseWriter, err error) {
	ge := gatewayerr.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.StatusCode)
	if encErr := json.NewEncoder(w).Encode(map[string]any{"message": ge.Message}); encErr != nil && p.logger != nil {
		p.logger.Error("explain error encode failed", slog.Any("error", encErr))
	}
}

// redactClaims keeps claim names observable for debugging without leaking
// their values; "role" is surfaced separately and omitted here.
func redactClaims(claims map[string]any) []string {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		if k == "role" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
