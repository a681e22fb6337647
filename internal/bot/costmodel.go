package bot

import (
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"spreadarb/internal/models"
)

// ErrNegativeFee - ставка комиссии меньше нуля
var ErrNegativeFee = errors.New("fee rate must not be negative")

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// CostModel переводит комиссии бирж и оценку проскальзывания в минимальный требуемый спред.
// Комиссии хранятся в долях (0.001 = 0.1%), спреды считаются в процентах.
type CostModel struct {
	mu           sync.RWMutex
	fees         map[string]models.FeeSchedule
	defaultTaker float64
	slippagePct  float64
}

// NewCostModel создает модель. defaultTakerRate используется для бирж без расписания.
func NewCostModel(fees []models.FeeSchedule, defaultTakerRate, slippagePct float64) *CostModel {
	if defaultTakerRate < 0 {
		defaultTakerRate = 0
	}
	if slippagePct < 0 {
		slippagePct = 0
	}
	m := &CostModel{
		fees:         make(map[string]models.FeeSchedule, len(fees)),
		defaultTaker: defaultTakerRate,
		slippagePct:  slippagePct,
	}
	for _, f := range fees {
		if f.MakerRate >= 0 && f.TakerRate >= 0 {
			m.fees[f.Venue] = f
		}
	}
	return m
}

// SetFees заменяет расписание комиссий биржи
func (m *CostModel) SetFees(f models.FeeSchedule) error {
	if f.MakerRate < 0 || f.TakerRate < 0 {
		return ErrNegativeFee
	}
	m.mu.Lock()
	m.fees[f.Venue] = f
	m.mu.Unlock()
	return nil
}

// Fees возвращает расписания комиссий, отсортированные по бирже
func (m *CostModel) Fees() []models.FeeSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FeeSchedule, 0, len(m.fees))
	for _, f := range m.fees {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

// TakerRate возвращает ставку тейкера биржи в долях
func (m *CostModel) TakerRate(venue string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.fees[venue]; ok {
		return f.TakerRate
	}
	return m.defaultTaker
}

// SlippagePct - оценка проскальзывания в процентах
func (m *CostModel) SlippagePct() float64 {
	return m.slippagePct
}

// RequiredSpread возвращает минимальный спред в процентах:
// max(taker(buy) + taker(sell) + slippage + safetyMargin, floor)
func (m *CostModel) RequiredSpread(buyVenue, sellVenue string, safetyMarginPct, minSpreadFloorPct float64) float64 {
	buy := decimal.NewFromFloat(m.TakerRate(buyVenue)).Mul(hundred)
	sell := decimal.NewFromFloat(m.TakerRate(sellVenue)).Mul(hundred)

	required := buy.Add(sell).
		Add(decimal.NewFromFloat(m.slippagePct)).
		Add(decimal.NewFromFloat(safetyMarginPct))

	floor := decimal.NewFromFloat(minSpreadFloorPct)
	if required.LessThan(floor) {
		required = floor
	}
	return required.InexactFloat64()
}

// ModeledPnl оценивает PnL пары ног: выручка - затраты - комиссии тейкера на оба нотионала -
// проскальзывание slippagePct, поровну на обе ноги. Возвращает PnL и сумму комиссий.
// С slippagePct = 0 это PnL по фактическим ценам исполнения.
func (m *CostModel) ModeledPnl(buyPrice, sellPrice, amount float64, buyVenue, sellVenue string, slippagePct float64) (pnl, fees float64) {
	qty := decimal.NewFromFloat(amount)
	cost := decimal.NewFromFloat(buyPrice).Mul(qty)
	revenue := decimal.NewFromFloat(sellPrice).Mul(qty)

	fee := cost.Mul(decimal.NewFromFloat(m.TakerRate(buyVenue))).
		Add(revenue.Mul(decimal.NewFromFloat(m.TakerRate(sellVenue))))

	slippage := cost.Add(revenue).
		Mul(decimal.NewFromFloat(slippagePct)).
		Div(hundred).
		Div(two)

	result := revenue.Sub(cost).Sub(fee).Sub(slippage)
	return result.Round(8).InexactFloat64(), fee.Round(8).InexactFloat64()
}

// LegPnl считает PnL по фактическим исполнениям с разным объемом ног:
// проданная часть дает выручку, комиссия покупки списывается целиком.
func (m *CostModel) LegPnl(buyPrice, boughtQty, sellPrice, soldQty float64, buyVenue, sellVenue string) (pnl, fees float64) {
	cost := decimal.NewFromFloat(buyPrice).Mul(decimal.NewFromFloat(boughtQty))
	revenue := decimal.NewFromFloat(sellPrice).Mul(decimal.NewFromFloat(soldQty))
	soldCost := decimal.NewFromFloat(buyPrice).Mul(decimal.NewFromFloat(soldQty))

	fee := cost.Mul(decimal.NewFromFloat(m.TakerRate(buyVenue))).
		Add(revenue.Mul(decimal.NewFromFloat(m.TakerRate(sellVenue))))

	// непроданный остаток остается в базовом активе и в PnL не входит
	result := revenue.Sub(soldCost).Sub(fee)
	return result.Round(8).InexactFloat64(), fee.Round(8).InexactFloat64()
}
