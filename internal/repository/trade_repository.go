package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"spreadarb/internal/models"
	"spreadarb/pkg/utils"
)

// Ошибки журнала сделок
var (
	ErrTradeExists   = errors.New("trade already recorded")
	ErrTradeNotFinal = errors.New("only finalized trades are recorded")
)

// Лимиты выборок
const (
	DefaultTradeLimit = 50
	MaxTradeLimit     = 1000
	DefaultPnlDays    = 14
	MaxPnlDays        = 365
)

const tradeColumns = `id, symbol, buy_venue, sell_venue, amount, buy_price, sell_price, net_spread_pct,
		pnl_usd, fees_usd, dry_run, shadow, outcome, attempts, error, timestamp`

// TradeRepository - журнал сделок (таблица trades). Записи только добавляются.
type TradeRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db, now: time.Now}
}

// AppendTrade записывает финализированную сделку
func (r *TradeRepository) AppendTrade(ctx context.Context, t *models.Trade) error {
	if !t.IsFinal() {
		return ErrTradeNotFinal
	}

	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Symbol,
		t.BuyVenue,
		t.SellVenue,
		t.Amount,
		t.BuyPrice,
		t.SellPrice,
		t.NetSpreadPct,
		t.PnlUSD,
		t.FeesUSD,
		t.DryRun,
		t.Shadow,
		t.Outcome,
		t.Attempts,
		t.Error,
		t.Timestamp.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTradeExists
		}
		return err
	}
	return nil
}

// QueryRecent возвращает последние сделки, новые первыми
func (r *TradeRepository) QueryRecent(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE shadow = $1
		ORDER BY timestamp DESC, id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, shadow, clampLimit(limit, DefaultTradeLimit, MaxTradeLimit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []*models.Trade{}
	for rows.Next() {
		t := &models.Trade{}
		err := rows.Scan(
			&t.ID,
			&t.Symbol,
			&t.BuyVenue,
			&t.SellVenue,
			&t.Amount,
			&t.BuyPrice,
			&t.SellPrice,
			&t.NetSpreadPct,
			&t.PnlUSD,
			&t.FeesUSD,
			&t.DryRun,
			&t.Shadow,
			&t.Outcome,
			&t.Attempts,
			&t.Error,
			&t.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// QueryDailyAggregates возвращает PnL по UTC дням за последние days дней, новые первыми.
// Дни без сделок не возвращаются.
func (r *TradeRepository) QueryDailyAggregates(ctx context.Context, days int, shadow bool) ([]models.DailyPnl, error) {
	days = clampLimit(days, DefaultPnlDays, MaxPnlDays)
	since := utils.LastNDaysStart(days, r.now())

	query := `
		SELECT date_trunc('day', timestamp AT TIME ZONE 'UTC') AS day,
			COUNT(*),
			COALESCE(SUM(pnl_usd), 0),
			COUNT(*) FILTER (WHERE pnl_usd > 0),
			COUNT(*) FILTER (WHERE pnl_usd < 0)
		FROM trades
		WHERE shadow = $1 AND timestamp >= $2 AND outcome <> 'failed'
		GROUP BY day
		ORDER BY day DESC`

	rows, err := r.db.QueryContext(ctx, query, shadow, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.DailyPnl{}
	for rows.Next() {
		var d models.DailyPnl
		if err := rows.Scan(&d.Day, &d.Trades, &d.Pnl, &d.Winning, &d.Losing); err != nil {
			return nil, err
		}
		d.Day = utils.DayStartUTC(d.Day)
		result = append(result, d)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Stats считает агрегаты по всем реальным или теневым сделкам.
// Покупки без исполнения (failed) в агрегаты не входят и считаются отдельно.
func (r *TradeRepository) Stats(ctx context.Context, shadow bool) (*models.TradeStats, error) {
	query := `
		SELECT COUNT(*) FILTER (WHERE outcome <> 'failed'),
			COALESCE(SUM(pnl_usd) FILTER (WHERE outcome <> 'failed'), 0),
			COALESCE(AVG(pnl_usd) FILTER (WHERE outcome <> 'failed'), 0),
			COALESCE(MAX(pnl_usd) FILTER (WHERE outcome <> 'failed'), 0),
			COALESCE(MIN(pnl_usd) FILTER (WHERE outcome <> 'failed'), 0),
			COUNT(*) FILTER (WHERE outcome <> 'failed' AND pnl_usd > 0),
			COUNT(*) FILTER (WHERE outcome <> 'failed' AND pnl_usd < 0),
			COUNT(*) FILTER (WHERE outcome = 'unhedged'),
			COUNT(*) FILTER (WHERE outcome = 'failed')
		FROM trades
		WHERE shadow = $1`

	s := &models.TradeStats{}
	err := r.db.QueryRowContext(ctx, query, shadow).Scan(
		&s.TotalTrades,
		&s.TotalPnl,
		&s.AvgPnl,
		&s.BestTrade,
		&s.WorstTrade,
		&s.Wins,
		&s.Losses,
		&s.Unhedged,
		&s.Failed,
	)
	if err != nil {
		return nil, err
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	}
	return s, nil
}

// SymbolExposure - нотионал исполненных покупок символа с момента since.
// Учитываются completed и unhedged, теневые сделки не учитываются.
func (r *TradeRepository) SymbolExposure(ctx context.Context, symbol string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount * buy_price), 0)
		FROM trades
		WHERE symbol = $1 AND shadow = FALSE
			AND outcome IN ('completed', 'unhedged')
			AND timestamp >= $2`

	var exposure float64
	if err := r.db.QueryRowContext(ctx, query, symbol, since.UTC()).Scan(&exposure); err != nil {
		return 0, err
	}
	return exposure, nil
}

// RealizedPnl - сумма PnL нетеневых сделок с момента since
func (r *TradeRepository) RealizedPnl(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(pnl_usd), 0)
		FROM trades
		WHERE shadow = FALSE AND timestamp >= $1`

	var pnl float64
	if err := r.db.QueryRowContext(ctx, query, since.UTC()).Scan(&pnl); err != nil {
		return 0, err
	}
	return pnl, nil
}
