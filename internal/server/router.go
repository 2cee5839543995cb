package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fnrelay/lambdagate/internal/config"
)

// healthExplainer is implemented by *runtime.Pipeline; declared locally so
// this package doesn't need to import runtime just for the method set.
type healthExplainer interface {
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeExplain(http.ResponseWriter, *http.Request)
}

// NewHandler wires the gateway's top-level HTTP surface: the metrics
// endpoint (when enabled), the /healthz and debug-gated /explain
// diagnostics (SPEC_FULL.md §4), and a CORS-wrapped catch-all that hands
// every other request to the pipeline, which owns its own routing (spec
// §4.3). CORS preflight requests (OPTIONS carrying
// Access-Control-Request-Method) are answered by the cors middleware and
// do not reach the pipeline; other OPTIONS requests reach the Pipeline's
// own OPTIONS fast path (spec §4.9 step 1).
func NewHandler(pipeline http.Handler, metricsHandler http.Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.CORS.AllowedOrigins),
		AllowedMethods:   corsMethods(cfg.CORS.AllowedMethods),
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	if cfg.Metrics.Enabled && metricsHandler != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, metricsHandler)
	}

	if he, ok := pipeline.(healthExplainer); ok {
		r.Get("/healthz", he.ServeHealth)
		if cfg.Debug.Explain {
			r.Get("/explain", he.ServeExplain)
		}
	}

	r.Handle("/*", pipeline)
	return r
}

func corsOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

func corsMethods(configured []string) []string {
	if len(configured) == 0 {
		return []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	return configured
}
