// Package responder implements spec §4.7: apply default headers, encode
// base64 bodies, and render either a success body or a normalized error
// object, always logging errors to LogSink before the response is written.
package responder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fnrelay/lambdagate/internal/logsink"
	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
	"github.com/fnrelay/lambdagate/internal/runtime/pipeline"
)

// errorBody is the normalized JSON error object spec §4.7/§7 requires:
// {message, statusCode, stack?}. Stack is only populated outside production
// so clients in prod never see internals.
type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Stack      string `json:"stack,omitempty"`
}

// Responder writes the final HTTP response for a completed pipeline run.
type Responder struct {
	logger            *slog.Logger
	sink              logsink.Sink
	correlationHeader string
	production        bool
}

// New constructs a Responder. correlationHeader, if non-empty, is echoed on
// every response. production suppresses stack traces from error bodies.
func New(logger *slog.Logger, sink logsink.Sink, correlationHeader string, production bool) *Responder {
	if sink == nil {
		sink = logsink.NewNop(logger)
	}
	return &Responder{logger: logger, sink: sink, correlationHeader: correlationHeader, production: production}
}

// Respond applies the default headers (content-type, CORS) then
// state.Response.Headers (envelope wins), then either writes the error body
// (if state.Err() is set) or the shaped success body, decoding base64 first
// when state.Response.Base64 is true (spec §4.7's responds()).
func (r *Responder) Respond(ctx context.Context, w http.ResponseWriter, correlationID string, state *pipeline.State) {
	w.Header().Set("Content-Type", contentTypeFor(state.Response.Base64))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	for k, v := range state.Response.Headers {
		w.Header().Set(k, v)
	}
	if r.correlationHeader != "" {
		w.Header().Set(r.correlationHeader, correlationID)
	}

	if err := state.Err(); err != nil {
		r.writeError(ctx, w, correlationID, err)
		return
	}

	status := state.Response.Status
	if status == 0 {
		status = http.StatusOK
	}

	body, encodeErr := r.encodeBody(state.Response.Body, state.Response.Base64)
	if encodeErr != nil {
		r.writeError(ctx, w, correlationID, gatewayerr.Internal("failed to encode response body", encodeErr))
		return
	}

	w.WriteHeader(status)
	if _, writeErr := w.Write(body); writeErr != nil {
		r.logger.Error("responder: write failed", slog.Any("error", writeErr), slog.String("correlation_id", correlationID))
	}
}

// writeError renders the normalized {message, statusCode, stack?} object
// and always logs the failure to LogSink before returning (spec §7).
func (r *Responder) writeError(ctx context.Context, w http.ResponseWriter, correlationID string, err error) {
	ge := gatewayerr.As(err)
	status := ge.StatusCode
	if status <= 0 {
		status = http.StatusInternalServerError
	}

	fields := map[string]any{"correlationId": correlationID, "statusCode": status}
	if ge.Cause != nil {
		fields["cause"] = ge.Cause.Error()
	}
	level := "warn"
	if status >= 500 {
		level = "error"
	}
	r.sink.Log(ctx, logsink.Entry{Level: level, Message: ge.Message, Fields: fields})
	r.logger.Error("pipeline error", slog.String("correlation_id", correlationID), slog.Int("status", status), slog.Any("error", ge))

	body := ge.Body
	if body == nil {
		errBody := errorBody{Message: ge.Message, StatusCode: status}
		if !r.production && ge.Cause != nil {
			errBody.Stack = ge.Cause.Error()
		}
		body = errBody
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		r.logger.Error("responder: error encode failed", slog.Any("error", encErr))
	}
}

// encodeBody implements spec §4.7's write() contract: a byte buffer is
// written as-is, a string is written raw (not JSON-quoted), and everything
// else (numbers, objects) is JSON.stringify'd. base64Flag decodes a string
// body to bytes first.
func (r *Responder) encodeBody(body any, base64Flag bool) ([]byte, error) {
	if base64Flag {
		s, ok := body.(string)
		if !ok {
			return nil, gatewayerr.Internal("base64 response body must be a string", nil)
		}
		return base64.StdEncoding.DecodeString(s)
	}
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

func contentTypeFor(base64Flag bool) string {
	if base64Flag {
		return "application/octet-stream"
	}
	return "application/json"
}
