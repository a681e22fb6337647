package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/pkg/retry"
)

func newTestBybit(t *testing.T, handler http.HandlerFunc) *Bybit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewBybit(BybitConfig{
		Name:         "bybit",
		BaseURL:      srv.URL,
		APIKey:       "key",
		APISecret:    "secret",
		MakerFee:     0.001,
		TakerFee:     0.001,
		RateLimit:    1000,
		PollInterval: time.Millisecond,
		HTTPClient:   srv.Client(),
	}, nil)
}

func TestBybitGetOrderBook(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/orderbook", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.Header.Get("X-BAPI-SIGN"), "public endpoint must not be signed")
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT","b":[["99.5","2"]],"a":[["100.5","3"]],"ts":1700000000000}}`)
	})

	book, err := b.GetOrderBook(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	snap, err := book.Snapshot("bybit", book.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, 99.5, snap.BestBid)
	assert.Equal(t, 100.5, snap.BestAsk)
	assert.Equal(t, 2.0, snap.BidSize)
	assert.Equal(t, 3.0, snap.AskSize)
	assert.Equal(t, int64(1700000000000), book.Timestamp.UnixMilli())
}

func TestBybitEmptyBook(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"result":{"s":"BTCUSDT","b":[],"a":[["100","1"]]}}`)
	})

	book, err := b.GetOrderBook(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = book.Snapshot("bybit", time.Now())
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestBybitSignedRequest(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		assert.NotEmpty(t, ts)
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))

		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(ts + "key" + bybitRecvWindow + r.URL.RawQuery))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-BAPI-SIGN"))

		io.WriteString(w, `{"retCode":0,"result":{"list":[{"coin":[{"coin":"USDT","walletBalance":"1500","locked":"500"}]}]}}`)
	})

	balance, err := b.GetBalance(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balance)
}

func TestBybitErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"insufficient balance", http.StatusOK, `{"retCode":170131,"retMsg":"Insufficient balance"}`, false},
		{"rate limited", http.StatusOK, `{"retCode":10006,"retMsg":"Too many visits"}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"forbidden", http.StatusForbidden, `forbidden`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := b.GetBalance(context.Background(), "USDT")
			require.Error(t, err)

			var exErr *ExchangeError
			require.True(t, errors.As(err, &exErr))
			assert.Equal(t, tt.retryable, retry.IsRetryable(err))
		})
	}
}

func TestBybitSubmitOrderWaitsForFill(t *testing.T) {
	var polls int32
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "Sell", req["side"])
			assert.Equal(t, "Limit", req["orderType"])
			assert.Equal(t, "IOC", req["timeInForce"])
			assert.Equal(t, "0.5", req["qty"])
			assert.NotEmpty(t, req["orderLinkId"])
			io.WriteString(w, `{"retCode":0,"result":{"orderId":"42"}}`)
		case "/v5/order/realtime":
			if atomic.AddInt32(&polls, 1) < 3 {
				io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"New","cumExecQty":"0","avgPrice":"0"}]}}`)
				return
			}
			io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"Filled","cumExecQty":"0.5","avgPrice":"101.2"}]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	order, err := b.SubmitOrder(context.Background(), "BTCUSDT", SideSell, 0.5, 101)
	require.NoError(t, err)
	assert.True(t, order.Filled())
	assert.Equal(t, "42", order.ID)
	assert.Equal(t, 0.5, order.FilledQty)
	assert.Equal(t, 101.2, order.AvgFillPrice)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestBybitSubmitOrderCancelled(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/create" {
			io.WriteString(w, `{"retCode":0,"result":{"orderId":"7"}}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"Cancelled","cumExecQty":"0","avgPrice":""}]}}`)
	})

	order, err := b.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 1, 100)
	require.NoError(t, err)
	assert.False(t, order.Filled())
	assert.Equal(t, OrderStatusCancelled, order.Status)
}

func TestBybitSubmitOrderTimeout(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/create" {
			io.WriteString(w, `{"retCode":0,"result":{"orderId":"9"}}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"result":{"list":[]}}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.SubmitOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBybitGetOrderFinal(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/order/realtime", r.URL.Path, "final order is not cancelled")
		assert.Equal(t, "o1", r.URL.Query().Get("orderId"))
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"Filled","cumExecQty":"0.25","avgPrice":"100.1"}]}}`)
	})

	order, err := b.GetOrder(context.Background(), "BTCUSDT", "o1")
	require.NoError(t, err)
	assert.True(t, order.Filled())
	assert.Equal(t, 0.25, order.FilledQty)
	assert.Equal(t, 100.1, order.AvgFillPrice)
}

func TestBybitGetOrderCancelsOpenOrder(t *testing.T) {
	var cancelled int32
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/cancel":
			atomic.StoreInt32(&cancelled, 1)
			io.WriteString(w, `{"retCode":170213,"retMsg":"Order does not exist."}`)
		case "/v5/order/realtime":
			if atomic.LoadInt32(&cancelled) == 0 {
				io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"PartiallyFilled","cumExecQty":"0.1","avgPrice":"100"}]}}`)
				return
			}
			io.WriteString(w, `{"retCode":0,"result":{"list":[{"orderStatus":"PartiallyFilledCanceled","cumExecQty":"0.1","avgPrice":"100"}]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	order, err := b.GetOrder(context.Background(), "BTCUSDT", "o2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.Equal(t, OrderStatusPartial, order.Status)
	assert.Equal(t, 0.1, order.FilledQty)
}

func TestBybitGetOrderStillUnknown(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v5/order/cancel" {
			io.WriteString(w, `{"retCode":0,"result":{"orderId":"o3"}}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"result":{"list":[]}}`)
	})

	order, err := b.GetOrder(context.Background(), "BTCUSDT", "o3")
	require.NoError(t, err)
	assert.True(t, order.Unconfirmed())
}

func TestBybitDecimalErrorsArePermanent(t *testing.T) {
	for _, code := range []string{"170134", "170137"} {
		t.Run(code, func(t *testing.T) {
			b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"retCode":`+code+`,"retMsg":"too many decimals"}`)
			})

			_, err := b.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 1, 100.123)
			require.Error(t, err)
			assert.False(t, retry.IsRetryable(err))
		})
	}
}

func TestBybitRejectsInvalidOrder(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := b.SubmitOrder(context.Background(), "BTCUSDT", "hold", 1, 100)
	assert.Error(t, err)
	assert.False(t, retry.IsRetryable(err))

	_, err = b.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 0, 100)
	assert.Error(t, err)
}

func TestBybitFeesWithoutCredentials(t *testing.T) {
	b := NewBybit(BybitConfig{Name: "bybit", TakerFee: 0.001, MakerFee: 0.0008}, nil)

	fees, err := b.GetFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.001, fees.TakerRate)
	assert.Equal(t, 0.0008, fees.MakerRate)

	_, err = b.GetBalance(context.Background(), "USDT")
	assert.Error(t, err, "private endpoint requires credentials")
}

func TestBybitFeesFromAccount(t *testing.T) {
	b := newTestBybit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/account/fee-rate", r.URL.Path)
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"","takerFeeRate":"0.0006","makerFeeRate":"0.0004"}]}}`)
	})

	fees, err := b.GetFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0006, fees.TakerRate)
	assert.Equal(t, 0.0004, fees.MakerRate)
	assert.Equal(t, "bybit", fees.Venue)
}
