package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	mu     sync.Mutex
	reqs   []*http.Request
	bodies [][]byte
	status int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(req.Body)
	f.reqs = append(f.reqs, req)
	f.bodies = append(f.bodies, body)
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (f *fakeDoer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func TestBufferedSinkFlushesOnMaxBatch(t *testing.T) {
	doer := &fakeDoer{}
	sink := New(Config{
		LogGroup:      "gateway",
		Endpoint:      "http://example.invalid/logs",
		FlushInterval: time.Hour,
		MaxBatch:      2,
	}, doer, slog.Default())
	defer sink.Close(context.Background())

	sink.Log(context.Background(), Entry{Level: "error", Message: "first"})
	sink.Log(context.Background(), Entry{Level: "error", Message: "second"})

	require.Eventually(t, func() bool { return doer.count() >= 1 }, time.Second, 5*time.Millisecond)

	var payload map[string]any
	doer.mu.Lock()
	body := doer.bodies[0]
	doer.mu.Unlock()
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "gateway", payload["logGroup"])
}

func TestBufferedSinkFlushesOnClose(t *testing.T) {
	doer := &fakeDoer{}
	sink := New(Config{
		Endpoint:      "http://example.invalid/logs",
		FlushInterval: time.Hour,
		MaxBatch:      50,
	}, doer, slog.Default())

	sink.Log(context.Background(), Entry{Level: "info", Message: "queued"})
	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 1, doer.count())
}

func TestNopSinkNeverErrors(t *testing.T) {
	sink := NewNop(slog.Default())
	sink.Log(context.Background(), Entry{Level: "warn", Message: "discarded"})
	require.NoError(t, sink.Close(context.Background()))
}
