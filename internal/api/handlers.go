package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sentrycoin/internal/engine"
	"sentrycoin/internal/whale"
)

// EngineProvider is what the control plane needs from the engine.
type EngineProvider interface {
	Initialized() bool
	Running() bool
	Symbol() string
	Version() string
	ComponentsOnline() int
	GetMetrics() engine.MetricsSnapshot
	IngestWebhook(payload whale.WebhookPayload) (txCount, receiptCount int)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	engine       EngineProvider
	webhookToken string
	logger       *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(engine EngineProvider, webhookToken string, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:       engine,
		webhookToken: webhookToken,
		logger:       logger.With("component", "api-handlers"),
	}
}

// HandleHealth is the liveness probe. Always 200 once the process serves.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"service":          "sentrycoin",
		"version":          h.engine.Version(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"running":          h.engine.Running(),
		"componentsOnline": h.engine.ComponentsOnline(),
	})
}

// HandleStatus serves the full metrics snapshot. 503 until the engine has
// initialized, so orchestrators can gate readiness on it.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Initialized() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.GetMetrics())
}

// HandlePerformance serves the counters subset of /status.
func (h *Handlers) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Initialized() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not initialized"})
		return
	}
	m := h.engine.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":             m.Symbol,
		"uptimeSeconds":      m.UptimeSeconds,
		"orderBookTicks":     m.OrderBookTicks,
		"derivativesUpdates": m.DerivativesUpdates,
		"whaleIntents":       m.WhaleIntents,
		"regimesDetected":    m.RegimesDetected,
		"scheduler":          m.Scheduler,
		"notifier":           m.Notifier,
	})
}

// HandleWhaleWebhook is the authenticated mempool-provider intake.
func (h *Handlers) HandleWhaleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	if !h.authorized(r) {
		h.logger.Warn("webhook rejected: bad or missing bearer token", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var payload whale.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	txCount, receiptCount := h.engine.IngestWebhook(payload)
	writeJSON(w, http.StatusOK, map[string]int{
		"transactions": txCount,
		"receipts":     receiptCount,
	})
}

func (h *Handlers) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return h.webhookToken != "" && strings.TrimPrefix(auth, prefix) == h.webhookToken
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
