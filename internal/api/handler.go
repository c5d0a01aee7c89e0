package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/config"
	"github.com/perfdesk/eventcore/internal/outbox"
	"github.com/perfdesk/eventcore/internal/query"
)

const maxBodyBytes = 1 << 20

// readyMaxLag is the oldest-undelivered-message age beyond which the
// instance reports itself not ready.
const readyMaxLag = 60 * time.Second

// Handler holds all HTTP handler dependencies.
type Handler struct {
	commands  *command.Bus
	queries   *query.Bus
	processor *outbox.Processor
	outbox    outbox.Store
	loader    *config.Loader
	mux       *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(commands *command.Bus, queries *query.Bus, processor *outbox.Processor, ob outbox.Store, loader *config.Loader) http.Handler {
	h := &Handler{commands: commands, queries: queries, processor: processor, outbox: ob, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/commands", h.dispatchCommand)
	h.mux.HandleFunc("POST /v1/queries", h.dispatchQuery)
	h.mux.HandleFunc("POST /v1/queries/invalidate", h.invalidateQueries)
	h.mux.HandleFunc("GET /v1/outbox/exhausted", h.exhaustedMessages)
	h.mux.HandleFunc("POST /v1/outbox/retry", h.retryFailed)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

type commandRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Meta    command.Meta   `json:"meta"`
}

// POST /v1/commands — dispatch one command through the bus.
func (h *Handler) dispatchCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "command type is required")
		return
	}

	res := h.commands.Dispatch(r.Context(), command.New(req.Type, req.Payload, req.Meta))
	writeResult(w, res)
}

type queryRequest struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Meta     query.Meta     `json:"meta"`
	CacheKey string         `json:"cache_key,omitempty"`
	TTLMs    int            `json:"ttl_ms,omitempty"`
}

// POST /v1/queries — dispatch one query, optionally cached.
func (h *Handler) dispatchQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "query type is required")
		return
	}

	q := query.New(req.Type, req.Payload, req.Meta)
	if req.CacheKey != "" {
		ttl := time.Duration(req.TTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Duration(h.loader.Config().Cache.DefaultTTLMs) * time.Millisecond
		}
		q = q.Cached(req.CacheKey, ttl)
	}
	writeResult(w, h.queries.Dispatch(r.Context(), q))
}

// POST /v1/queries/invalidate — evict cache entries by wildcard pattern.
func (h *Handler) invalidateQueries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	n, err := h.queries.InvalidatePattern(req.Pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invalidated": n})
}

// GET /v1/outbox/exhausted — messages that have used up their retry budget.
func (h *Handler) exhaustedMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.outbox.Exhausted(r.Context(), h.loader.Config().Outbox.MaxRetries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(msgs),
		"messages": msgs,
	})
}

// POST /v1/outbox/retry — reset failed messages for redelivery.
func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.processor.RetryFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// POST /v1/config/reload — re-read config from disk and apply it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.processor.SwapSettings(outbox.SettingsFromConfig(cfg.Outbox))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"outbox":   cfg.Outbox,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 when the outbox backlog is stale.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	age, ok, err := h.outbox.OldestPendingAge(r.Context(), h.loader.Config().Outbox.MaxRetries)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if ok && age > readyMaxLag {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":       "overloaded",
			"outbox_lag_s": age.Seconds(),
		})
		return
	}
	lag := 0.0
	if ok {
		lag = age.Seconds()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ready",
		"outbox_lag_s": lag,
	})
}
