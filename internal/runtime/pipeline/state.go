package pipeline

import (
	"context"
	"net/http"

	"github.com/fnrelay/lambdagate/internal/runtime/router"
)

// Agent represents a runtime component that collaborates on processing an
// incoming request. Each agent observes and mutates the shared State before
// returning its Result snapshot.
type Agent interface {
	Name() string
	Execute(context.Context, *http.Request, *State) Result
}

// Result captures the outcome emitted by an agent during pipeline execution.
type Result struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// URLState mirrors RequestArgs.url: path, pathname and query exposed
// separately for templates/CEL expressions that need the raw breakdown.
type URLState struct {
	Path     string            `json:"path"`
	Pathname string            `json:"pathname"`
	Query    map[string]string `json:"query"`
}

// RequestState is the canonical parsed request (RequestArgs in the data
// model), normalized by RequestParser; the only later change is the
// Authenticator adding params.auth.
type RequestState struct {
	Method       string            `json:"method"`
	Host         string            `json:"host"`
	Headers      map[string]string `json:"headers"`
	Body         map[string]any    `json:"body"`
	Params       map[string]any    `json:"params"`
	HasExtension bool              `json:"hasExtension"`
	URI          string            `json:"uri"`
	URL          URLState          `json:"url"`
}

// RouteState records the outcome of route resolution.
type RouteState struct {
	Pattern       string `json:"pattern,omitempty"`
	LambdaName    string `json:"lambdaName,omitempty"`
	Matched       bool   `json:"matched"`
	CacheAdmin    bool   `json:"cacheAdmin"`
	FavoriteIcon  bool   `json:"-"`
	OptionsPreFly bool   `json:"-"`
}

// AuthState records the outcome of JWT verification and role gating.
type AuthState struct {
	Applied  bool           `json:"applied"`
	Role     string         `json:"role,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
	Decision string         `json:"decision,omitempty"`
}

// InvokeState reports the outcome of the cache-mediated backend invocation.
type InvokeState struct {
	Requested bool   `json:"requested"`
	FromCache bool   `json:"fromCache"`
	CacheHit  bool   `json:"cacheHit"`
	Stale     bool   `json:"stale"`
	Error     string `json:"error,omitempty"`
}

// ResponseState is the HTTP response composed for the caller.
type ResponseState struct {
	Status  int               `json:"status"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers"`
	Base64  bool              `json:"base64"`
}

// CacheState captures cache participation information for the request.
type CacheState struct {
	Eligible bool   `json:"eligible"`
	Key      string `json:"key,omitempty"`
	Hit      bool   `json:"hit"`
}

// State is the shared context threaded through every agent in the pipeline.
type State struct {
	CorrelationID string `json:"correlationId"`

	Request  RequestState  `json:"request"`
	Route    RouteState    `json:"route"`
	Auth     AuthState     `json:"auth"`
	Invoke   InvokeState   `json:"invoke"`
	Response ResponseState `json:"response"`
	Cache    CacheState    `json:"cache"`

	backendPayload any
	err            error
	lambdaSpec     *router.LambdaSpec
}

// SetLambdaSpec stashes the resolved route's compiled LambdaSpec for
// downstream stages (Authenticator, CachedInvoker, ResponseShaper).
func (s *State) SetLambdaSpec(spec *router.LambdaSpec) { s.lambdaSpec = spec }

// LambdaSpec retrieves the resolved route's compiled LambdaSpec, or nil if
// routing has not run yet or nothing matched.
func (s *State) LambdaSpec() *router.LambdaSpec { return s.lambdaSpec }

// NewState initializes the shared state for a single request's evaluation.
func NewState(correlationID string) *State {
	return &State{
		CorrelationID: correlationID,
		Response: ResponseState{
			Headers: make(map[string]string),
		},
	}
}

// SetBackendPayload stashes the raw BackendResponse for the ResponseShaper.
func (s *State) SetBackendPayload(payload any) { s.backendPayload = payload }

// BackendPayload retrieves the raw BackendResponse produced by CachedInvoker.
func (s *State) BackendPayload() any { return s.backendPayload }

// SetError records the first pipeline error; later stages should check Err
// before doing further work.
func (s *State) SetError(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first error recorded on the state, if any.
func (s *State) Err() error { return s.err }

// TemplateContext exposes a map suitable for CEL/template evaluation of the
// dynamic configuration fields (auth.secret, auth.token, cache.enabled,
// cache.key), mirroring RequestArgs' shape.
func (s *State) TemplateContext() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return map[string]any{
		"method":       s.Request.Method,
		"host":         s.Request.Host,
		"headers":      s.Request.Headers,
		"body":         s.Request.Body,
		"params":       s.Request.Params,
		"hasExtension": s.Request.HasExtension,
		"uri":          s.Request.URI,
		"url": map[string]any{
			"path":     s.Request.URL.Path,
			"pathname": s.Request.URL.Pathname,
			"query":    s.Request.URL.Query,
		},
	}
}
