// Package responseshaper normalizes a BackendResponse into a
// ResponseEnvelope (spec §4.6).
package responseshaper

import (
	"context"
	"fmt"
	"net/http"

	"dario.cat/mergo"

	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
)

// Agent normalizes state's stashed BackendResponse into state.Response.
type Agent struct{}

// New constructs the ResponseShaper agent.
func New() *Agent { return &Agent{} }

// Name identifies the agent for pipeline diagnostics.
func (a *Agent) Name() string { return "response_shaper" }

// Execute implements spec §4.6's envelope-vs-scalar discrimination,
// default-header merging (backend wins), and the statusCode>=400 ->
// BackendError conversion.
func (a *Agent) Execute(_ context.Context, _ *http.Request, state *pipeline.State) pipeline.Result {
	spec := state.LambdaSpec()
	raw := state.BackendPayload()

	defaultHeaders := map[string]string{}
	defaultBase64 := false
	if spec != nil {
		for k, v := range spec.Defaults.ResponseHeaders {
			defaultHeaders[k] = v
		}
		if spec.Defaults.ResponseBase64 != nil {
			defaultBase64 = *spec.Defaults.ResponseBase64
		}
	}

	body, headers, base64Flag, status := shape(raw, defaultHeaders, defaultBase64)

	if status >= 400 {
		state.SetError(gatewayerr.Backend(status, body))
		return pipeline.Result{Name: a.Name(), Status: "error", Details: fmt.Sprintf("backend status %d", status)}
	}

	state.Response = pipeline.ResponseState{
		Status:  status,
		Body:    body,
		Headers: headers,
		Base64:  base64Flag,
	}
	return pipeline.Result{Name: a.Name(), Status: "ok"}
}

// shape performs the tagged-sum discrimination from spec §3: an envelope is
// recognized iff both "body" and "headers" are present.
func shape(raw any, defaultHeaders map[string]string, defaultBase64 bool) (body any, headers map[string]string, base64Flag bool, status int) {
	if obj, ok := raw.(map[string]any); ok {
		rawBody, hasBody := obj["body"]
		rawHeaders, hasHeaders := obj["headers"]
		if hasBody && hasHeaders {
			merged := mergeHeaders(defaultHeaders, toStringMap(rawHeaders))
			b64 := defaultBase64
			if v, ok := obj["base64"].(bool); ok {
				b64 = v
			}
			status = 200
			if v, ok := toStatus(obj["statusCode"]); ok {
				status = v
			}
			return rawBody, merged, b64, status
		}
		// Not a full envelope (headers absent), but a bare statusCode still
		// signals a backend error; the statusCode>=400 rule applies
		// independent of the envelope's headers-presence check (spec §4.6).
		if v, ok := toStatus(obj["statusCode"]); ok {
			if hasBody {
				return rawBody, mergeHeaders(defaultHeaders, nil), defaultBase64, v
			}
			return raw, mergeHeaders(defaultHeaders, nil), defaultBase64, v
		}
	}
	return raw, mergeHeaders(defaultHeaders, nil), defaultBase64, 200
}

// mergeHeaders merges backend-returned headers over lambda.defaults, the
// backend winning on collision (spec §4.6, invariant in §8).
func mergeHeaders(defaults, backend map[string]string) map[string]string {
	merged := map[string]string{}
	for k, v := range defaults {
		merged[k] = v
	}
	_ = mergo.Merge(&merged, backend, mergo.WithOverride)
	return merged
}

func toStringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprintf("%v", val)
			}
		}
		return out
	default:
		return nil
	}
}

func toStatus(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
