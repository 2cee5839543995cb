package invoker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/invoker"
)

type fakeDoer struct {
	lastReq *http.Request
	status  int
	body    string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(stringsReader(f.body)),
	}, nil
}

type stringsReader string

func (s stringsReader) Read(p []byte) (int, error) {
	n := copy(p, s)
	if n == 0 {
		return 0, io.EOF
	}
	return n, io.EOF
}

func TestInvokeParsesPayload(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"Payload":"{\"ok\":true}"}`}
	inv := invoker.New(doer, "http://lambda.local/invoke", nil)

	result, err := inv.Invoke(context.Background(), "fn", map[string]any{"a": 1}, "")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)

	var req map[string]any
	require.NoError(t, json.NewDecoder(doer.lastReq.Body).Decode(&req))
	require.Equal(t, "fn", req["FunctionName"])
	require.Equal(t, "$LATEST", req["Qualifier"])
}

func TestInvokeSurfacesFunctionError(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"FunctionError":"Unhandled","Payload":"null"}`}
	inv := invoker.New(doer, "http://lambda.local/invoke", nil)

	_, err := inv.Invoke(context.Background(), "fn", map[string]any{}, "v2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Unhandled")
}
