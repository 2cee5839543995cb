// Package requestparser normalizes an inbound *http.Request into the
// canonical RequestArgs shape carried on pipeline.State.
package requestparser

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
	"github.com/fnrelay/lambdagate/internal/runtime/valuecoder"
)

// Agent builds pipeline.State.Request from the raw *http.Request. Body I/O
// is the only suspension point, matching spec §4.2's ordering contract.
type Agent struct{}

// New constructs the RequestParser agent.
func New() *Agent { return &Agent{} }

// Name identifies the agent for pipeline diagnostics.
func (a *Agent) Name() string { return "request_parser" }

// Execute parses r into state.Request, short-circuiting with a BadRequest
// gatewayerr on malformed JSON bodies.
func (a *Agent) Execute(_ context.Context, r *http.Request, state *pipeline.State) pipeline.Result {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		headers[strings.ToLower(name)] = values[0]
	}

	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		query[name] = values[0]
	}

	pathname := Normalize(r.URL.Path)
	body := map[string]any{}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		parsed, err := parseBody(r)
		if err != nil {
			state.SetError(gatewayerr.BadRequest("invalid request body", err))
			return pipeline.Result{Name: a.Name(), Status: "error", Details: err.Error()}
		}
		body = parsed
	}

	state.Request = pipeline.RequestState{
		Method:       r.Method,
		Host:         r.Host,
		Headers:      headers,
		Body:         body,
		Params:       valuecoder.ParseQuery(r.URL.RawQuery),
		HasExtension: strings.Contains(pathname, "."),
		URI:          pathname,
		URL: pipeline.URLState{
			Path:     r.URL.Path,
			Pathname: pathname,
			Query:    query,
		},
	}

	return pipeline.Result{Name: a.Name(), Status: "ok"}
}

// Normalize collapses a pathname to a single leading slash, collapses runs
// of "/" into one, and trims any trailing slash (except for root). It is
// idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "/"
	}
	return "/" + strings.Join(kept, "/")
}

func parseBody(r *http.Request) (map[string]any, error) {
	original := r.Body
	defer func() { _ = original.Close() }()
	data, err := io.ReadAll(original)
	if err != nil {
		return nil, err
	}
	// Leave the body readable for later stages (CacheAdmin reads it again).
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
