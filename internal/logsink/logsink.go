// Package logsink implements the LogSink collaborator spec.md's GLOSSARY
// names: "buffered remote log target with a debounce flush interval".
// Responder emits every pipeline error here before writing the HTTP
// response (spec §7).
package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Entry is a single log record destined for the remote log group.
type Entry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// Sink is the LogSink contract: buffered, debounce-flushed, safe for
// concurrent use (spec §5).
type Sink interface {
	Log(ctx context.Context, entry Entry)
	Close(ctx context.Context) error
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls the buffered sink's batching and destination.
type Config struct {
	LogGroup      string
	Endpoint      string
	FlushInterval time.Duration
	MaxBatch      int
}

// BufferedSink accumulates entries and flushes them to Endpoint either
// every FlushInterval or once MaxBatch entries have queued, whichever
// comes first.
type BufferedSink struct {
	cfg    Config
	client httpDoer
	logger *slog.Logger

	mu      sync.Mutex
	pending []Entry

	flush  chan struct{}
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// New builds a BufferedSink and starts its background flush loop. Fallback
// defaults: 5s flush interval, batch size 50.
func New(cfg Config, client httpDoer, logger *slog.Logger) *BufferedSink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &BufferedSink{
		cfg:    cfg,
		client: client,
		logger: logger,
		flush:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

// Log appends entry to the pending batch, requesting an immediate flush
// once the batch reaches MaxBatch.
func (s *BufferedSink) Log(_ context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= s.cfg.MaxBatch
	s.mu.Unlock()

	if full {
		select {
		case s.flush <- struct{}{}:
		default:
		}
	}
}

func (s *BufferedSink) run() {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	defer close(s.closed)
	for {
		select {
		case <-ticker.C:
			s.flushNow()
		case <-s.flush:
			s.flushNow()
		case <-s.done:
			s.flushNow()
			return
		}
	}
}

func (s *BufferedSink) flushNow() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.client == nil || s.cfg.Endpoint == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{"logGroup": s.cfg.LogGroup, "entries": batch})
	if err != nil {
		s.logger.Error("logsink: marshal batch failed", slog.Any("error", err))
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("logsink: build request failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("logsink: flush failed", slog.Any("error", err))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Error("logsink: remote rejected batch", slog.Int("status", resp.StatusCode))
	}
}

// Close stops the flush loop after a final flush.
func (s *BufferedSink) Close(context.Context) error {
	s.once.Do(func() { close(s.done) })
	<-s.closed
	return nil
}

var _ Sink = (*BufferedSink)(nil)

// NopSink ships nothing remotely; used when logGroup has no remote endpoint
// configured, it mirrors every entry to the local slog handler only.
type NopSink struct{ logger *slog.Logger }

// NewNop builds a Sink that only mirrors entries to the local logger.
func NewNop(logger *slog.Logger) *NopSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NopSink{logger: logger}
}

func (n *NopSink) Log(_ context.Context, entry Entry) {
	attrs := make([]any, 0, len(entry.Fields)*2+1)
	attrs = append(attrs, slog.String("sink_level", entry.Level))
	for k, v := range entry.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	n.logger.Warn(fmt.Sprintf("logsink(nop): %s", entry.Message), attrs...)
}

func (n *NopSink) Close(context.Context) error { return nil }

var _ Sink = (*NopSink)(nil)
