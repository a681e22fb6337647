package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"spreadarb/internal/params"
	"spreadarb/internal/service"
)

// ParameterHandler - риск-параметры.
//
// Endpoints:
// - GET /api/v1/parameters - все параметры с границами
// - PATCH /api/v1/parameters/{name} - изменить значение (требует токен оператора)
type ParameterHandler struct {
	paramService service.ParameterServiceInterface
}

// NewParameterHandler создает новый ParameterHandler
func NewParameterHandler(paramService service.ParameterServiceInterface) *ParameterHandler {
	return &ParameterHandler{paramService: paramService}
}

// UpdateParameterRequest - тело PATCH запроса
type UpdateParameterRequest struct {
	Value *float64 `json:"value"`
}

// OutOfRangeResponse - ответ 400 с нарушенной границей
type OutOfRangeResponse struct {
	Error string  `json:"error"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Bound string  `json:"bound"`
	Limit float64 `json:"limit"`
}

// GetParameters - GET /api/v1/parameters
func (h *ParameterHandler) GetParameters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.paramService.GetParameters())
}

// UpdateParameter - PATCH /api/v1/parameters/{name}
//
// Request: {"value": 750}
//
// Response 400 (вне границ):
//
//	{"error": "value out of range", "name": "MAX_CAPITAL_PER_TRADE_USD", "value": 20000, "bound": "max", "limit": 10000}
//
// Response 404: {"error": "unknown parameter", "details": "..."}
func (h *ParameterHandler) UpdateParameter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req UpdateParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required", nil)
		return
	}

	updated, err := h.paramService.UpdateParameter(r.Context(), name, *req.Value)
	if err != nil {
		var rangeErr *params.OutOfRangeError
		switch {
		case errors.As(err, &rangeErr):
			writeJSON(w, http.StatusBadRequest, OutOfRangeResponse{
				Error: "value out of range",
				Name:  rangeErr.Name,
				Value: rangeErr.Value,
				Bound: rangeErr.Bound,
				Limit: rangeErr.Limit,
			})
		case errors.Is(err, params.ErrUnknownParameter):
			writeError(w, http.StatusNotFound, "unknown parameter", err)
		default:
			writeError(w, http.StatusInternalServerError, "failed to update parameter", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}
