package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"spreadarb/internal/models"
	"spreadarb/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
	bybitCategory   = "spot"

	limitPublic  = "public"
	limitPrivate = "private"
)

// Коды retCode, при которых повтор запроса бессмысленен
var bybitPermanentCodes = map[int]bool{
	10001:  true, // ошибка параметров
	10003:  true, // неверный API ключ
	10004:  true, // ошибка подписи
	10005:  true, // нет прав
	170121: true, // неверный символ
	170131: true, // недостаточно средств
	170136: true, // объем меньше минимального
	170140: true, // сумма ордера меньше минимальной
	170134: true, // лишние знаки в цене
	170137: true, // лишние знаки в количестве
}

// bybitOrderGoneCodes - ордер уже не активен, отменять нечего
var bybitOrderGoneCodes = map[string]bool{
	"170213": true,
	"110001": true,
}

// BybitConfig - параметры адаптера Bybit
type BybitConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	APISecret string
	MakerFee  float64
	TakerFee  float64
	// RateLimit - запросов в секунду к публичным методам; приватным достается половина
	RateLimit float64
	// PollInterval - период опроса статуса ордера после размещения
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Bybit реализует Exchange для спотового рынка Bybit (REST v5)
type Bybit struct {
	name      string
	baseURL   string
	apiKey    string
	secretKey string

	fees         models.FeeSchedule
	pollInterval time.Duration

	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	logger     *zap.Logger
}

// NewBybit создает адаптер Bybit
func NewBybit(cfg BybitConfig, logger *zap.Logger) *Bybit {
	if cfg.Name == "" {
		cfg.Name = "bybit"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := ratelimit.NewMultiLimiter()
	limiter.Add(limitPublic, cfg.RateLimit, cfg.RateLimit)
	limiter.Add(limitPrivate, cfg.RateLimit/2, cfg.RateLimit/2)

	return &Bybit{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.APISecret,
		fees: models.FeeSchedule{
			Venue:     cfg.Name,
			MakerRate: cfg.MakerFee,
			TakerRate: cfg.TakerFee,
		},
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
		limiter:      limiter,
		logger:       logger.With(zap.String("venue", cfg.Name)),
	}
}

func (b *Bybit) GetName() string {
	return b.name
}

func (b *Bybit) hasCredentials() bool {
	return b.apiKey != "" && b.secretKey != ""
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API и проверяет retCode
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	category := limitPublic
	if signed {
		if !b.hasCredentials() {
			return nil, &ExchangeError{Exchange: b.name, Message: "api credentials are not configured", Permanent: true}
		}
		category = limitPrivate
	}
	if err := b.limiter.Wait(ctx, category); err != nil {
		return nil, err
	}

	var payload string
	reqURL := b.baseURL + endpoint

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		if payload != "" {
			reqURL += "?" + payload
		}
	} else if len(params) > 0 {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		payload = string(body)
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: b.name, Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Exchange: b.name, Message: "failed to read response", Original: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ExchangeError{
			Exchange:  b.name,
			Code:      strconv.Itoa(resp.StatusCode),
			Message:   "http " + http.StatusText(resp.StatusCode),
			Permanent: resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests,
		}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(data, &baseResp); err != nil {
		return nil, &ExchangeError{Exchange: b.name, Message: "malformed response", Original: err}
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange:  b.name,
			Code:      strconv.Itoa(baseResp.RetCode),
			Message:   baseResp.RetMsg,
			Permanent: bybitPermanentCodes[baseResp.RetCode],
		}
	}

	return data, nil
}

func (b *Bybit) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
		"limit":    "1",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/orderbook", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
			Ts     int64      `json:"ts"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	book := &OrderBook{
		Symbol:    symbol,
		Bids:      parseLevels(resp.Result.Bids),
		Asks:      parseLevels(resp.Result.Asks),
		Timestamp: time.UnixMilli(resp.Result.Ts),
	}
	if resp.Result.Ts == 0 {
		book.Timestamp = time.Now()
	}

	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })

	return book, nil
}

func parseLevels(raw [][]string) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(lvl[0], 64)
		volume, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil || price <= 0 {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Volume: volume})
	}
	return levels
}

// GetFees запрашивает персональные ставки комиссии.
// Без ключей API возвращает ставки из файла бирж.
func (b *Bybit) GetFees(ctx context.Context) (*models.FeeSchedule, error) {
	fees := b.fees
	if !b.hasCredentials() {
		return &fees, nil
	}

	params := map[string]string{"category": bybitCategory}
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/fee-rate", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				TakerFeeRate string `json:"takerFeeRate"`
				MakerFeeRate string `json:"makerFeeRate"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return &fees, nil
	}

	taker, err := strconv.ParseFloat(resp.Result.List[0].TakerFeeRate, 64)
	if err != nil || taker < 0 {
		return nil, fmt.Errorf("bybit: invalid taker fee %q", resp.Result.List[0].TakerFeeRate)
	}
	maker, err := strconv.ParseFloat(resp.Result.List[0].MakerFeeRate, 64)
	if err != nil || maker < 0 {
		maker = fees.MakerRate
	}

	fees.TakerRate = taker
	fees.MakerRate = maker
	return &fees, nil
}

// GetBalance возвращает свободный остаток актива на едином аккаунте
func (b *Bybit) GetBalance(ctx context.Context, asset string) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        strings.ToUpper(asset),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
					Locked        string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	for _, account := range resp.Result.List {
		for _, c := range account.Coin {
			if !strings.EqualFold(c.Coin, asset) {
				continue
			}
			wallet, _ := strconv.ParseFloat(c.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(c.Locked, 64)
			if free := wallet - locked; free > 0 {
				return free, nil
			}
			return 0, nil
		}
	}

	return 0, nil
}

// SubmitOrder размещает лимитный IOC ордер и опрашивает его статус до финального
func (b *Bybit) SubmitOrder(ctx context.Context, symbol, side string, amount, price float64) (*Order, error) {
	if amount <= 0 || price <= 0 {
		return nil, &ExchangeError{Exchange: b.name, Message: "amount and price must be positive", Permanent: true}
	}

	bybitSide := "Buy"
	switch side {
	case SideBuy:
	case SideSell:
		bybitSide = "Sell"
	default:
		return nil, &ExchangeError{Exchange: b.name, Message: "unknown side " + side, Permanent: true}
	}

	params := map[string]string{
		"category":    bybitCategory,
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Limit",
		"qty":         strconv.FormatFloat(amount, 'f', -1, 64),
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
		"timeInForce": "IOC",
		"orderLinkId": uuid.NewString(),
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &Order{
		ID:        resp.Result.OrderID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  amount,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.logger.Debug("order submitted",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("order_id", order.ID),
		zap.Float64("amount", amount),
		zap.Float64("price", price))

	if err := b.waitFinal(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// waitFinal опрашивает /v5/order/realtime пока ордер не станет финальным или не истечет ctx
func (b *Bybit) waitFinal(ctx context.Context, order *Order) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		final, err := b.queryOrder(ctx, order)
		if err == nil && final {
			return nil
		}
		if err != nil && isPermanent(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("order %s not confirmed: %w", order.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// queryOrder запрашивает состояние ордера один раз; true - состояние финальное
func (b *Bybit) queryOrder(ctx context.Context, order *Order) (bool, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   order.Symbol,
		"orderId":  order.ID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return false, err
	}
	final, err := applyOrderStatus(body, order)
	if err != nil {
		return false, &ExchangeError{Exchange: b.name, Message: "malformed order status", Original: err, Permanent: true}
	}
	return final, nil
}

// GetOrder запрашивает состояние ордера. Если ордер не финален, он отменяется
// и состояние запрашивается повторно.
func (b *Bybit) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	order := &Order{ID: orderID, Symbol: symbol}

	final, err := b.queryOrder(ctx, order)
	if err != nil || final {
		return order, err
	}

	params := map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if _, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true); err != nil {
		var exErr *ExchangeError
		if !errors.As(err, &exErr) || !bybitOrderGoneCodes[exErr.Code] {
			return order, err
		}
	}

	if _, err := b.queryOrder(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

func isPermanent(err error) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.Permanent
}

// applyOrderStatus переносит статус ордера из ответа; true - статус финальный
func applyOrderStatus(body []byte, order *Order) (bool, error) {
	var resp struct {
		Result struct {
			List []struct {
				OrderStatus string `json:"orderStatus"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, err
	}
	// ордер еще не виден в realtime
	if len(resp.Result.List) == 0 {
		return false, nil
	}

	o := resp.Result.List[0]
	order.FilledQty, _ = strconv.ParseFloat(o.CumExecQty, 64)
	order.AvgFillPrice, _ = strconv.ParseFloat(o.AvgPrice, 64)
	order.UpdatedAt = time.Now()

	switch o.OrderStatus {
	case "Filled":
		order.Status = OrderStatusFilled
	case "PartiallyFilledCanceled":
		order.Status = OrderStatusPartial
	case "Cancelled", "Deactivated":
		order.Status = OrderStatusCancelled
	case "Rejected":
		order.Status = OrderStatusRejected
	default:
		return false, nil
	}
	return true, nil
}

func (b *Bybit) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}
