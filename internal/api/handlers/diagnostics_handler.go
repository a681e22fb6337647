package handlers

import (
	"context"
	"net/http"
	"time"

	"spreadarb/internal/service"
)

// Pinger - проверка доступности зависимости (БД)
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DiagnosticsHandler - здоровье и состояние движка.
//
// Endpoints:
// - GET /api/v1/diagnostics - режим, выключатели, параметры, приостановки, heartbeat
// - GET /api/v1/fees - комиссии бирж
// - GET /health - liveness
type DiagnosticsHandler struct {
	diagnostics service.DiagnosticsServiceInterface
	db          Pinger
}

// NewDiagnosticsHandler создает новый DiagnosticsHandler. db может быть nil.
func NewDiagnosticsHandler(diagnostics service.DiagnosticsServiceInterface, db Pinger) *DiagnosticsHandler {
	return &DiagnosticsHandler{diagnostics: diagnostics, db: db}
}

// GetDiagnostics - GET /api/v1/diagnostics
func (h *DiagnosticsHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := h.diagnostics.GetDiagnostics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get diagnostics", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetFees - GET /api/v1/fees
func (h *DiagnosticsHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.diagnostics.GetFees())
}

// Health - GET /health. 503 если БД недоступна.
func (h *DiagnosticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
