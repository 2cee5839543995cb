// Package authenticator verifies a request's JWT against the resolved
// route's auth spec and enforces role requirements (spec §4.4).
package authenticator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
	"github.com/fnrelay/lambdagate/internal/runtime/router"
)

// Agent verifies the JWT named by the resolved LambdaSpec's auth block.
type Agent struct{}

// New constructs the Authenticator agent.
func New() *Agent { return &Agent{} }

// Name identifies the agent for pipeline diagnostics.
func (a *Agent) Name() string { return "authenticator" }

// Execute applies lambda.Auth to state.Request. When auth is absent the
// request passes through unchanged. Verification is the only suspension
// point (spec §4.4).
func (a *Agent) Execute(_ context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	spec := state.LambdaSpec()
	if spec == nil || spec.Auth == nil {
		return pipeline.Result{Name: a.Name(), Status: "skipped"}
	}
	auth := spec.Auth

	if auth.NonObject {
		state.SetError(gatewayerr.Config("auth should be an object"))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: "auth should be an object"}
	}

	vars := state.TemplateContext()

	token, err := resolveToken(auth, vars, state.Request.Headers, state.Request.Params)
	if err != nil {
		state.SetError(gatewayerr.Auth(err.Error()))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}
	if token == "" {
		state.SetError(gatewayerr.Auth("jwt must be provided"))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: "jwt must be provided"}
	}

	unverifiedClaims, err := decodeUnverified(token)
	if err != nil {
		state.SetError(gatewayerr.Auth(err.Error()))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}
	vars["payload"] = map[string]any(unverifiedClaims)

	secret, err := resolveSecret(auth, vars)
	if err != nil {
		state.SetError(gatewayerr.Auth(err.Error()))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}

	claims, err := verify(token, secret, auth.Options)
	if err != nil {
		state.SetError(gatewayerr.Auth(err.Error()))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
	}

	role, _ := claims["role"].(string)
	allowed := map[string]any{"role": role}
	for _, field := range auth.AllowedFields {
		if v, ok := claims[field]; ok {
			allowed[field] = v
		}
	}

	if state.Request.Params == nil {
		state.Request.Params = map[string]any{}
	}
	state.Request.Params["auth"] = allowed

	state.Auth = pipeline.AuthState{
		Applied:  true,
		Role:     role,
		Claims:   map[string]any(claims),
		Decision: "allow",
	}

	if len(auth.RequiredRoles) > 0 && !contains(auth.RequiredRoles, role) {
		state.Auth.Decision = "forbidden"
		message := forbiddenMessage(auth, role, claims)
		state.SetError(gatewayerr.Auth(message))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: message}
	}

	return pipeline.Result{Name: a.Name(), Status: "ok", Meta: map[string]any{"role": role}}
}

func resolveToken(auth *router.AuthSpec, vars map[string]any, headers map[string]string, params map[string]any) (string, error) {
	if !auth.Token.IsZero() {
		token, ok, err := auth.Token.EvaluateString(vars)
		if err != nil {
			return "", fmt.Errorf("resolve auth.token: %w", err)
		}
		if ok {
			return token, nil
		}
	}
	if v := headers["authorization"]; v != "" {
		return v, nil
	}
	if v, ok := params["token"].(string); ok {
		return v, nil
	}
	return "", nil
}

func resolveSecret(auth *router.AuthSpec, vars map[string]any) (string, error) {
	if auth.Secret.IsZero() {
		return "", nil
	}
	secret, ok, err := auth.Secret.EvaluateString(vars)
	if err != nil {
		return "", fmt.Errorf("resolve auth.secret: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("auth.secret did not resolve to a string")
	}
	return secret, nil
}

func decodeUnverified(token string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("jwt malformed")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return jwt.MapClaims{}, nil
	}
	return claims, nil
}

// verify re-parses token with signature and claims validation enabled,
// applying whatever subset of VerifyOptions (spec §3) the options map
// carries: algorithms, issuer, audience, leeway, ignoreExpiration.
func verify(token, secret string, options map[string]any) (jwt.MapClaims, error) {
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	parsed, err := jwt.Parse(token, keyFunc, parserOptions(options)...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return jwt.MapClaims{}, nil
	}
	return claims, nil
}

func parserOptions(options map[string]any) []jwt.ParserOption {
	var opts []jwt.ParserOption
	if options == nil {
		return opts
	}
	if raw, ok := options["algorithms"]; ok {
		if algs := toStringSlice(raw); len(algs) > 0 {
			opts = append(opts, jwt.WithValidMethods(algs))
		}
	}
	if issuer, ok := options["issuer"].(string); ok && issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience, ok := options["audience"].(string); ok && audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if leeway, ok := options["leeway"].(float64); ok && leeway > 0 {
		opts = append(opts, jwt.WithLeeway(time.Duration(leeway)*time.Second))
	}
	if ignore, ok := options["ignoreExpiration"].(bool); ok && ignore {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	return opts
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

// forbiddenMessage renders the route's optional sprig template with the
// role and verified claims, falling back to a bare "Forbidden" when no
// template is configured or rendering fails.
func forbiddenMessage(auth *router.AuthSpec, role string, claims jwt.MapClaims) string {
	if auth.ForbiddenMessage == nil {
		return "Forbidden"
	}
	rendered, err := auth.ForbiddenMessage.Render(map[string]any{"role": role, "claims": map[string]any(claims)})
	if err != nil || rendered == "" {
		return "Forbidden"
	}
	return rendered
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
