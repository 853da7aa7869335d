package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req

		conn.WriteMessage(websocket.TextMessage, []byte(`{"ts":1,"event":"info","code":1,"message":"connection established"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"ts":2,"event":"update","topic":"spot/ticker:BTC_USD",
			"data":{"buy_price":"10000","sell_price":"10010","last_trade":"10005","high":"10100","low":"9900",
			"avg":"10000","vol":"1","vol_curr":"10000","updated":1700000000}}`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewTickerStream(testLogger(), wsURL, []string{"BTC_USD", "ETH_USD"})

	_, err := stream.GetTickers(context.Background())
	assert.ErrorIs(t, err, ErrStreamNotReady)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case req := <-subscribed:
		assert.Equal(t, "subscribe", req.Method)
		assert.Equal(t, []string{"spot/ticker:BTC_USD", "spot/ticker:ETH_USD"}, req.Topics)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		_, err := stream.GetTickers(context.Background())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	tickers, err := stream.GetTickers(context.Background())
	require.NoError(t, err)
	assert.True(t, tickers["BTC_USD"].SellPrice.Equal(decimal.RequireFromString("10010")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestTickerStream_Handle(t *testing.T) {
	stream := NewTickerStream(testLogger(), "", nil)

	stream.handle([]byte(`not json`))
	stream.handle([]byte(`{"event":"error","code":2,"message":"bad topic"}`))
	stream.handle([]byte(`{"event":"update","topic":"spot/trades:BTC_USD","data":{}}`))
	_, err := stream.GetTickers(context.Background())
	assert.ErrorIs(t, err, ErrStreamNotReady)

	stream.handle([]byte(`{"event":"snapshot","topic":"spot/ticker:ETH_BTC","data":{"buy_price":"0.05","sell_price":"0.0501"}}`))
	tickers, err := stream.GetTickers(context.Background())
	require.NoError(t, err)
	assert.True(t, tickers["ETH_BTC"].BuyPrice.Equal(decimal.RequireFromString("0.05")))

	// returned snapshots are copies
	delete(tickers, "ETH_BTC")
	again, _ := stream.GetTickers(context.Background())
	assert.Contains(t, again, "ETH_BTC")
}
