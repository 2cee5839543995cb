// Package cacheadmin implements spec §4.8's POST /cache side channel:
// markToRefresh and unset operations against the configured CacheStore.
package cacheadmin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fnrelay/lambdagate/internal/runtime/cache"
	"github.com/fnrelay/lambdagate/internal/runtime/gatewayerr"
)

const (
	opMarkToRefresh = "markToRefresh"
	opUnset         = "unset"
)

// request is the POST /cache body: {operation?, namespace?, keys?}. Any
// other fields are ignored.
type request struct {
	Operation string   `json:"operation"`
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
}

// Handler serves POST /cache. store is nil when no CacheStore is configured,
// in which case every request yields a 404 (spec §4.8).
type Handler struct {
	store       cache.Store
	cachePrefix string
}

// New constructs a cache-admin Handler. store may be nil.
func New(store cache.Store, cachePrefix string) *Handler {
	return &Handler{store: store, cachePrefix: cachePrefix}
}

// Handle executes the requested operation and returns the reply body
// {[operation]: result}, or a *gatewayerr.Error on failure.
func (h *Handler) Handle(ctx context.Context, r *http.Request) (map[string]any, error) {
	if h.store == nil {
		return nil, gatewayerr.NotFound("cache store not configured")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, gatewayerr.BadRequest("failed to read request body", err)
	}

	var req request
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, gatewayerr.BadRequest("malformed cache-admin body", err)
		}
	}
	if req.Operation == "" {
		req.Operation = opMarkToRefresh
	}
	if req.Namespace == "" {
		req.Namespace = r.Host
	}

	var result any
	switch req.Operation {
	case opMarkToRefresh:
		result, err = h.store.MarkToRefresh(ctx, req.Namespace, h.prefixKeys(req.Keys))
	case opUnset:
		result, err = h.store.Unset(ctx, req.Namespace, h.prefixKeys(req.Keys))
	default:
		return nil, gatewayerr.BadRequest("unsupported cache operation "+req.Operation, nil)
	}
	if err != nil {
		return nil, gatewayerr.Internal("cache operation failed", err)
	}

	return map[string]any{req.Operation: result}, nil
}

func (h *Handler) prefixKeys(keys []string) []string {
	if len(keys) == 0 {
		return keys
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = h.cachePrefix + k
	}
	return prefixed
}
