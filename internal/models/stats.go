package models

import "time"

// TradeStats - сводная статистика по сделкам
type TradeStats struct {
	TotalTrades int     `json:"total_trades"`
	TotalPnl    float64 `json:"total_pnl"`
	AvgPnl      float64 `json:"avg_pnl"`
	BestTrade   float64 `json:"best_trade"`
	WorstTrade  float64 `json:"worst_trade"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"` // в процентах
	Unhedged    int     `json:"unhedged"`
	// Failed - покупки без исполнения, в TotalTrades не входят
	Failed int `json:"failed"`
}

// DailyPnl - агрегат PnL за один UTC день
type DailyPnl struct {
	Day     time.Time `json:"day"`
	Trades  int       `json:"trades"`
	Pnl     float64   `json:"pnl"`
	Winning int       `json:"winning"`
	Losing  int       `json:"losing"`
}

// Comparison - сравнение реальных и теневых результатов
type Comparison struct {
	Real         TradeStats `json:"real"`
	Shadow       TradeStats `json:"shadow"`
	PnlGap       float64    `json:"pnl_gap"`       // shadow - real
	CaptureRatio float64    `json:"capture_ratio"` // real / shadow, 0 если теневой PnL не положительный
}

// Diagnostics - снимок здоровья движка
type Diagnostics struct {
	Mode          string          `json:"mode"` // live или dry_run
	Breakers      BreakerStatus   `json:"breakers"`
	Parameters    []RiskParameter `json:"parameters"`
	InFlight      []string        `json:"in_flight"`
	Suspended     []Suspension    `json:"suspended"`
	Venues        []string        `json:"venues"`
	Symbols       []string        `json:"symbols"`
	LastCycleAt   time.Time       `json:"last_cycle_at"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	Uptime        string          `json:"uptime"`
}
