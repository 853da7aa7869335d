package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *ExmoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExmoClient(testLogger(), &config.ExchangeConfig{
		APIURL:    srv.URL,
		APIKey:    "key",
		APISecret: "secret",
		MakerFee:  0.002,
		TakerFee:  0.002,
	})
}

func respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func TestExmoClient_SignsRequests(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mac := hmac.New(sha512.New, []byte("secret"))
		mac.Write(body)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order_book", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("Key"))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("Sign"))
		form, _ = url.ParseQuery(string(body))

		respond(w, `{"BTC_USD":{"ask":[["10010","0.5","5005"]],"bid":[["10000","1","10000"],["9990","2","19980"]]}}`)
	})

	books, err := client.GetOrderBook(context.Background(), []string{"BTC_USD", "ETH_BTC"}, 40)
	require.NoError(t, err)

	assert.Equal(t, "BTC_USD,ETH_BTC", form.Get("pair"))
	assert.Equal(t, "40", form.Get("limit"))
	assert.NotEmpty(t, form.Get("nonce"))

	book := books["BTC_USD"]
	require.Len(t, book.Ask, 1)
	require.Len(t, book.Bid, 2)
	assert.True(t, book.Ask[0].Price.Equal(decimal.RequireFromString("10010")))
	assert.True(t, book.Bid[1].Amount.Equal(decimal.RequireFromString("19980")))
}

func TestExmoClient_GetTickers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, `{"BTC_USD":{"buy_price":"10000","sell_price":"10010","last_trade":"10005",
			"high":"10100","low":"9900","avg":"10000","vol":"12.5","vol_curr":"125000","updated":1700000000}}`)
	})

	tickers, err := client.GetTickers(context.Background())
	require.NoError(t, err)
	require.Contains(t, tickers, "BTC_USD")

	tk := tickers["BTC_USD"]
	assert.True(t, tk.BuyPrice.Equal(decimal.RequireFromString("10000")))
	assert.True(t, tk.SellPrice.Equal(decimal.RequireFromString("10010")))
	assert.True(t, tk.VolCurr.Equal(decimal.RequireFromString("125000")))
	assert.Equal(t, int64(1700000000), tk.Updated.Unix())
}

func TestExmoClient_Orders(t *testing.T) {
	ctx := context.Background()

	t.Run("place order returns the exchange id", func(t *testing.T) {
		var form url.Values
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			form, _ = url.ParseQuery(string(body))
			respond(w, `{"result":true,"error":"","order_id":123456}`)
		})

		id, err := client.PlaceMarketBuyTotal(ctx, "BTC_USD", decimal.RequireFromString("100"))
		require.NoError(t, err)
		assert.Equal(t, int64(123456), id)
		assert.Equal(t, "market_buy_total", form.Get("type"))
		assert.Equal(t, "100", form.Get("quantity"))
		assert.Equal(t, "0", form.Get("price"))
	})

	t.Run("api error is not retried for orders", func(t *testing.T) {
		var hits atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			respond(w, `{"result":false,"error":"Error 50052: Insufficient funds"}`)
		})

		_, err := client.PlaceLimitBuy(ctx, "BTC_USD", decimal.RequireFromString("0.01"), decimal.RequireFromString("10000"))
		assert.ErrorIs(t, err, ErrAPI)
		assert.Contains(t, err.Error(), "Insufficient funds")
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("server error is not retried for orders", func(t *testing.T) {
		var hits atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.PlaceMarketSell(ctx, "ETH_USD", decimal.RequireFromString("0.2"))
		assert.Error(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("open orders", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			respond(w, `{"BTC_USD":[{"order_id":"14","created":"1435517311","type":"buy","pair":"BTC_USD",
				"price":"100","quantity":"1","amount":"100"}]}`)
		})

		orders, err := client.GetUserOpenOrders(ctx)
		require.NoError(t, err)
		require.Len(t, orders["BTC_USD"], 1)
		assert.Equal(t, int64(14), orders["BTC_USD"][0].OrderID)
		assert.Equal(t, int64(1435517311), orders["BTC_USD"][0].Created.Unix())
	})

	t.Run("no open orders", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			respond(w, `[]`)
		})

		orders, err := client.GetUserOpenOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, orders)
	})

	t.Run("order trades", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			respond(w, `{"type":"buy","in_currency":"BTC","in_amount":"0.01","out_currency":"USD","out_amount":"100",
				"trades":[{"trade_id":3,"date":1435488248,"type":"buy","pair":"BTC_USD","order_id":12345,
				"quantity":"0.01","price":"10000","amount":"100"}]}`)
		})

		trades, err := client.GetOrderTrades(ctx, 12345)
		require.NoError(t, err)
		require.NotNil(t, trades)
		assert.Equal(t, "BTC", trades.InCurrency)
		assert.True(t, trades.InAmount.Equal(decimal.RequireFromString("0.01")))
		require.Len(t, trades.Trades, 1)
		assert.Equal(t, int64(12345), trades.Trades[0].OrderID)
	})

	t.Run("order trades not found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			respond(w, `{"result":false,"error":"Error 50304: Order was not found '12345'"}`)
		})

		trades, err := client.GetOrderTrades(ctx, 12345)
		assert.NoError(t, err)
		assert.Nil(t, trades)
	})

	t.Run("cancel", func(t *testing.T) {
		var form url.Values
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			form, _ = url.ParseQuery(string(body))
			respond(w, `{"result":true,"error":""}`)
		})

		require.NoError(t, client.CancelOrder(ctx, 77))
		assert.Equal(t, "77", form.Get("order_id"))
	})
}

func TestExmoClient_RetriesPublicCalls(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		respond(w, `["USD","BTC","ETH"]`)
	})

	currencies, err := client.GetCurrencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "BTC", "ETH"}, currencies)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExmoClient_GetFees(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("fees are not fetched remotely")
	})
	fees, err := client.GetFees(context.Background())
	require.NoError(t, err)
	assert.True(t, fees.Maker.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, fees.Taker.Equal(decimal.RequireFromString("0.002")))
}

func TestExmoClient_NonceIncreases(t *testing.T) {
	client := NewExmoClient(testLogger(), &config.ExchangeConfig{})
	prev := client.nonce()
	for i := 0; i < 100; i++ {
		n := client.nonce()
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("exmo", testLogger(), &config.ExchangeConfig{})
	require.NoError(t, err)
	assert.Equal(t, "exmo", c.GetName())

	_, err = NewClient("kraken", testLogger(), &config.ExchangeConfig{})
	assert.Error(t, err)
}

func TestExmoClient_GetCurrencies(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/currency", r.URL.Path)
		respond(w, `["USD","EUR","BTC","ETH"]`)
	})

	currencies, err := client.GetCurrencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR", "BTC", "ETH"}, currencies)
}
