package handlers

import (
	"net/http"

	"spreadarb/internal/models"
	"spreadarb/internal/service"
)

// TradeHandler - отчеты по журналу сделок.
//
// Endpoints:
// - GET /api/v1/trades?limit= - последние реальные сделки
// - GET /api/v1/shadow/trades?limit= - последние теневые сделки
// - GET /api/v1/stats - статистика реальных сделок
// - GET /api/v1/shadow/stats - статистика теневых сделок
// - GET /api/v1/pnl/daily?days= - PnL по UTC дням
// - GET /api/v1/compare - реальные против теневых
type TradeHandler struct {
	statsService service.StatsServiceInterface
}

// NewTradeHandler создает новый TradeHandler
func NewTradeHandler(statsService service.StatsServiceInterface) *TradeHandler {
	return &TradeHandler{statsService: statsService}
}

// GetTrades - GET /api/v1/trades
func (h *TradeHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	h.trades(w, r, false)
}

// GetShadowTrades - GET /api/v1/shadow/trades
func (h *TradeHandler) GetShadowTrades(w http.ResponseWriter, r *http.Request) {
	h.trades(w, r, true)
}

func (h *TradeHandler) trades(w http.ResponseWriter, r *http.Request, shadow bool) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err)
		return
	}

	trades, err := h.statsService.GetTrades(r.Context(), limit, shadow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get trades", err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetStats - GET /api/v1/stats
//
// Response 200 OK:
//
//	{"total_trades": 42, "total_pnl": 18.4, "avg_pnl": 0.44, "best_trade": 2.1,
//	 "worst_trade": -0.7, "wins": 35, "losses": 7, "win_rate": 83.3, "unhedged": 1}
func (h *TradeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.stats(w, r, false)
}

// GetShadowStats - GET /api/v1/shadow/stats
func (h *TradeHandler) GetShadowStats(w http.ResponseWriter, r *http.Request) {
	h.stats(w, r, true)
}

func (h *TradeHandler) stats(w http.ResponseWriter, r *http.Request, shadow bool) {
	stats, err := h.statsService.GetStats(r.Context(), shadow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetDailyPnl - GET /api/v1/pnl/daily?days=14
func (h *TradeHandler) GetDailyPnl(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err)
		return
	}

	daily, err := h.statsService.GetDailyPnl(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get daily pnl", err)
		return
	}
	if daily == nil {
		daily = []models.DailyPnl{}
	}
	writeJSON(w, http.StatusOK, daily)
}

// Compare - GET /api/v1/compare
func (h *TradeHandler) Compare(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.statsService.Compare(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compare", err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}
