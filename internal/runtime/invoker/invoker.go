// Package invoker implements the Invoker collaborator: a transport that
// takes {name, payload, version} and returns the decoded JSON Payload of
// the function's response, adapted from the teacher's
// backend_interaction_agent.go HTTP-execution shape.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Invoker is the interface CachedInvoker's fill closures call through to.
type Invoker interface {
	Invoke(ctx context.Context, name string, payload any, version string) (any, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPInvoker POSTs invocation requests to a function-invocation service
// endpoint in the shape spec §4.5 names: {FunctionName, Payload, Qualifier}.
type HTTPInvoker struct {
	client   httpDoer
	endpoint string
	logger   *slog.Logger
}

// New builds an HTTPInvoker targeting endpoint (e.g. a Lambda-invoke-style
// facade URL).
func New(client httpDoer, endpoint string, logger *slog.Logger) *HTTPInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvoker{client: client, endpoint: endpoint, logger: logger}
}

type invokeRequest struct {
	FunctionName string `json:"FunctionName"`
	Payload      string `json:"Payload"`
	Qualifier    string `json:"Qualifier"`
}

type invokeResponse struct {
	Payload       json.RawMessage `json:"Payload"`
	StatusCode    int             `json:"StatusCode"`
	FunctionError string          `json:"FunctionError"`
}

// Invoke sends {FunctionName: name, Payload: JSON.stringify(payload),
// Qualifier: version||"$LATEST"} and returns the parsed JSON Payload field
// from the response (spec §4.5).
func (i *HTTPInvoker) Invoke(ctx context.Context, name string, payload any, version string) (any, error) {
	if i.client == nil {
		return nil, fmt.Errorf("invoker: http client missing")
	}
	qualifier := version
	if strings.TrimSpace(qualifier) == "" {
		qualifier = "$LATEST"
	}

	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal payload: %w", err)
	}

	reqBody := invokeRequest{FunctionName: name, Payload: string(encodedPayload), Qualifier: qualifier}
	encodedRequest, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(encodedRequest))
	if err != nil {
		return nil, fmt.Errorf("invoker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	i.logger.Debug("lambda invocation started",
		slog.String("function", name),
		slog.String("qualifier", qualifier),
	)

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoker: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("invoker: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("invoker: function %s invocation failed with status %d: %s", name, resp.StatusCode, string(bodyBytes))
	}

	var parsed invokeResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("invoker: decode response: %w", err)
	}
	if parsed.FunctionError != "" {
		return nil, fmt.Errorf("invoker: function %s returned error: %s", name, parsed.FunctionError)
	}

	var result any
	if len(parsed.Payload) > 0 {
		// Payload travels as a JSON-encoded string, mirroring the request's
		// Payload; a raw JSON value is accepted as well.
		raw := []byte(parsed.Payload)
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			raw = []byte(encoded)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("invoker: decode payload: %w", err)
		}
	}

	i.logger.Debug("lambda invocation completed",
		slog.String("function", name),
		slog.Int("status", resp.StatusCode),
	)

	return result, nil
}
