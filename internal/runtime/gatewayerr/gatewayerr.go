// Package gatewayerr defines the tagged error taxonomy every pipeline stage
// short-circuits to: ConfigError, BadRequest, AuthError, NotFound,
// BackendError, InternalError.
package gatewayerr

import "fmt"

// Error is a tagged value carrying the HTTP status to surface and an
// optional cause, rather than an exceptional control-flow signal.
type Error struct {
	StatusCode int
	Message    string
	Cause      error
	// Body carries a structured backend error body (spec §9's "preserve
	// structured bodies" decision) so Responder can marshal it as-is instead
	// of stringifying it into Message.
	Body any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(status int, msg string, cause error) *Error {
	return &Error{StatusCode: status, Message: msg, Cause: cause}
}

// Config reports a configuration defect (500), including one that is only
// detected at request time, such as a non-object auth block.
func Config(msg string) *Error { return newErr(500, msg, nil) }

// BadRequest reports a 400-class client error (body parse failure,
// malformed cache-admin payload).
func BadRequest(msg string, cause error) *Error { return newErr(400, msg, cause) }

// Auth reports a 403 authentication/authorization failure.
func Auth(msg string) *Error { return newErr(403, msg, nil) }

// NotFound reports a 404 (no matching route, no cache driver for admin
// requests).
func NotFound(msg string) *Error { return newErr(404, msg, nil) }

// Backend reports a backend-originated error, preserving the reported
// status and the (possibly structured) body.
func Backend(status int, body any) *Error {
	e := newErr(status, messageFromBody(body), nil)
	e.Body = body
	return e
}

// Internal reports an unexpected pipeline failure (invoker transport,
// cache store, shaper invariant violation).
func Internal(msg string, cause error) *Error { return newErr(500, msg, cause) }

func messageFromBody(body any) string {
	switch v := body.(type) {
	case string:
		return v
	case nil:
		return "backend error"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// As extracts a *Error from err, synthesizing an InternalError wrapper for
// anything that isn't already tagged.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*Error); ok {
		return ge
	}
	return Internal(err.Error(), err)
}
