package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/WilliamBenEmbarek/erdetkoldt/internal/lifecycle"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/verdict"
)

// errorMessage is the human-readable half of the error payload. The audience
// is Danish, like the question the service answers.
const errorMessage = "Kunne ikke hente vejrudsigten"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	verdicts *verdict.Service
	cacheTTL time.Duration
	logger   *zap.Logger
	// cachePing, when set, is called by the health handler to check cache
	// reachability. Set when the backend is memcached.
	cachePing func() error
}

// NewHandler returns a new Handler. cacheTTL is echoed in the Cache-Control
// header so intermediaries expire in step with the response cache.
func NewHandler(verdicts *verdict.Service, cacheTTL time.Duration, logger *zap.Logger, cachePing func() error) *Handler {
	return &Handler{
		verdicts:  verdicts,
		cacheTTL:  cacheTTL,
		logger:    logger,
		cachePing: cachePing,
	}
}

// GetVerdict serves the cold verdict on any GET path. The request path,
// query and body are all ignored; every caller gets the same answer.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	body, cached, err := h.verdicts.Current(r.Context())
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.cacheTTL.Seconds())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)

	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("verdict served", zap.Bool("cached", cached))
	}
}

// GetHealth handles GET /healthz.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	if lifecycle.IsShuttingDown() {
		status = "shutting-down"
		statusCode = http.StatusServiceUnavailable
	}

	checks := make(map[string]string)
	if h.cachePing != nil {
		if err := h.cachePing(); err == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
			h.logger.Warn("cache unreachable", zap.Error(err))
		}
	}

	resp := map[string]interface{}{
		"status":    status,
		"service":   "erdetkoldt",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, statusCode, resp)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeUpstreamError converts any failure in the fetch/convert chain to the
// uniform 500 payload: a localized message plus the underlying description.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":  errorMessage,
		"detail": err.Error(),
	})
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("verdict failed", zap.Error(err))
	}
}
