package responder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
)

func newResponder() *Responder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, nil, "X-Correlation-Id", false)
}

func TestRespondWritesStringBodyRaw(t *testing.T) {
	// Spec §4.7's write() contract: a string body is written as-is, not
	// JSON-quoted (that's reserved for numbers and objects).
	r := newResponder()
	state := pipeline.NewState("corr-1")
	state.Response = pipeline.ResponseState{Status: 200, Body: "result", Headers: map[string]string{"x-extra": "1"}}

	rr := httptest.NewRecorder()
	r.Respond(context.Background(), rr, "corr-1", state)

	require.Equal(t, 200, rr.Code)
	require.Equal(t, "1", rr.Header().Get("x-extra"))
	require.Equal(t, "corr-1", rr.Header().Get("X-Correlation-Id"))
	require.Equal(t, "result", rr.Body.String())
}

func TestRespondWritesObjectBodyAsJSON(t *testing.T) {
	r := newResponder()
	state := pipeline.NewState("corr-1b")
	state.Response = pipeline.ResponseState{Status: 200, Body: map[string]any{"ok": true}, Headers: map[string]string{}}

	rr := httptest.NewRecorder()
	r.Respond(context.Background(), rr, "corr-1b", state)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, true, body["ok"])
}

func TestRespondDecodesBase64Body(t *testing.T) {
	r := newResponder()
	state := pipeline.NewState("corr-2")
	encoded := base64.StdEncoding.EncodeToString([]byte("binary-data"))
	state.Response = pipeline.ResponseState{Status: 200, Body: encoded, Base64: true, Headers: map[string]string{}}

	rr := httptest.NewRecorder()
	r.Respond(context.Background(), rr, "corr-2", state)

	require.Equal(t, 200, rr.Code)
	require.Equal(t, "binary-data", rr.Body.String())
	require.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
}

func TestRespondWritesNormalizedErrorBody(t *testing.T) {
	r := newResponder()
	state := pipeline.NewState("corr-3")
	state.SetError(gatewayerr.Auth("jwt must be provided"))

	rr := httptest.NewRecorder()
	r.Respond(context.Background(), rr, "corr-3", state)

	require.Equal(t, 403, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "jwt must be provided", body["message"])
	require.Equal(t, float64(403), body["statusCode"])
}

func TestRespondPreservesStructuredBackendErrorBody(t *testing.T) {
	r := newResponder()
	state := pipeline.NewState("corr-4")
	state.SetError(gatewayerr.Backend(422, map[string]any{"field": "email", "reason": "invalid"}))

	rr := httptest.NewRecorder()
	r.Respond(context.Background(), rr, "corr-4", state)

	require.Equal(t, 422, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "email", body["field"])
}
