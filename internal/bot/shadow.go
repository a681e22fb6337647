package bot

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spreadarb/internal/models"
	"spreadarb/internal/params"
)

// Режимы объема теневых сделок
const (
	ShadowSizingFixed = "fixed" // лимит на сделку без учета балансов
	ShadowSizingLive  = "live"  // те же балансы, что у реальной торговли
)

// BalanceSource - известные остатки на биржах
type BalanceSource interface {
	Balance(venue, asset string) float64
}

// ShadowEngine прогоняет ту же детекцию по тем же снимкам, игнорируя балансовые лимиты,
// экспозицию и выключатели, и записывает гипотетические сделки.
type ShadowEngine struct {
	detector *Detector
	cost     *CostModel
	vol      *VolatilityTracker
	params   ParameterSource
	ledger   TradeLedger
	sizing   string
	balances BalanceSource
	logger   *zap.Logger
}

// NewShadowEngine создает теневой движок. balances нужен только для режима live.
func NewShadowEngine(detector *Detector, cost *CostModel, vol *VolatilityTracker, p ParameterSource,
	ledger TradeLedger, sizing string, balances BalanceSource, logger *zap.Logger) *ShadowEngine {
	if sizing != ShadowSizingLive || balances == nil {
		sizing = ShadowSizingFixed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShadowEngine{
		detector: detector,
		cost:     cost,
		vol:      vol,
		params:   p,
		ledger:   ledger,
		sizing:   sizing,
		balances: balances,
		logger:   logger.With(zap.String("component", "shadow")),
	}
}

// Sizing возвращает режим объема
func (s *ShadowEngine) Sizing() string {
	return s.sizing
}

type shadowBudget struct {
	balances BalanceSource // nil - фиксированный объем
	params   ParameterSource
}

func (b shadowBudget) Available(venue, asset string) float64 {
	if b.balances == nil {
		return math.Inf(1)
	}
	return b.balances.Balance(venue, asset) * b.params.MustGet(params.MaxBalanceUsagePerExchange)
}

func (b shadowBudget) MaxNotional() float64 {
	return b.params.MustGet(params.MaxCapitalPerTradeUSD)
}

func (b shadowBudget) RemainingExposure(string) float64 {
	return math.Inf(1)
}

func (b shadowBudget) Blocked(string) bool {
	return false
}

// Run создает теневые сделки по снимкам цикла и записывает их в журнал
func (s *ShadowEngine) Run(ctx context.Context, snapshots []models.MarketSnapshot, now time.Time) []models.ShadowTrade {
	budget := shadowBudget{params: s.params}
	if s.sizing == ShadowSizingLive {
		budget.balances = s.balances
	}

	threshold := s.params.MustGet(params.VolatilityThresholdPercent)
	opps := s.detector.Detect(snapshots, budget, now)

	trades := make([]models.ShadowTrade, 0, len(opps))
	for _, opp := range opps {
		if over, _ := s.vol.Exceeds(opp.Symbol, threshold, opp.BuyVenue, opp.SellVenue); over {
			continue
		}

		trade := models.ShadowTrade{
			ID:           uuid.NewString(),
			Symbol:       opp.Symbol,
			BuyVenue:     opp.BuyVenue,
			SellVenue:    opp.SellVenue,
			Amount:       opp.SuggestedSize,
			BuyPrice:     opp.BuyPrice,
			SellPrice:    opp.SellPrice,
			NetSpreadPct: opp.NetSpreadPct,
			DryRun:       true,
			Shadow:       true,
			Outcome:      models.OutcomeCompleted,
			Timestamp:    now.UTC(),
		}
		trade.PnlUSD, trade.FeesUSD = s.cost.ModeledPnl(
			opp.BuyPrice, opp.SellPrice, opp.SuggestedSize,
			opp.BuyVenue, opp.SellVenue, s.cost.SlippagePct())

		if s.ledger != nil {
			if err := s.ledger.AppendTrade(ctx, &trade); err != nil {
				s.logger.Error("failed to append shadow trade", zap.String("symbol", trade.Symbol), zap.Error(err))
			}
		}
		RecordTrade(&trade)
		trades = append(trades, trade)
	}
	return trades
}
