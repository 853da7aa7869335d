package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"triarb/internal/model"
)

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetTickers(ctx context.Context) (map[string]model.Ticker, error) {
	args := m.Called(ctx)
	tickers, _ := args.Get(0).(map[string]model.Ticker)
	return tickers, args.Error(1)
}

func (m *MockExchange) GetOrderBook(ctx context.Context, pairs []string, depth int) (map[string]model.OrderBook, error) {
	args := m.Called(ctx, pairs, depth)
	books, _ := args.Get(0).(map[string]model.OrderBook)
	return books, args.Error(1)
}

func (m *MockExchange) GetFees(ctx context.Context) (model.Fees, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.Fees), args.Error(1)
}

func (m *MockExchange) GetCurrencies(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	currencies, _ := args.Get(0).([]string)
	return currencies, args.Error(1)
}

func (m *MockExchange) PlaceLimitBuy(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error) {
	args := m.Called(ctx, pair, quantity, price)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExchange) PlaceLimitSell(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error) {
	args := m.Called(ctx, pair, quantity, price)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExchange) PlaceMarketBuyTotal(ctx context.Context, pair string, amount decimal.Decimal) (int64, error) {
	args := m.Called(ctx, pair, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExchange) PlaceMarketSell(ctx context.Context, pair string, quantity decimal.Decimal) (int64, error) {
	args := m.Called(ctx, pair, quantity)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockExchange) CancelOrder(ctx context.Context, orderID int64) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockExchange) GetUserOpenOrders(ctx context.Context) (map[string][]model.OpenOrder, error) {
	args := m.Called(ctx)
	orders, _ := args.Get(0).(map[string][]model.OpenOrder)
	return orders, args.Error(1)
}

func (m *MockExchange) GetOrderTrades(ctx context.Context, orderID int64) (*model.OrderTrades, error) {
	args := m.Called(ctx, orderID)
	trades, _ := args.Get(0).(*model.OrderTrades)
	return trades, args.Error(1)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) LogTickers(ctx context.Context, created time.Time, tickers map[string]model.Ticker) error {
	args := m.Called(ctx, created, tickers)
	return args.Error(0)
}

func (m *MockRepository) SaveOpportunity(ctx context.Context, opp model.Opportunity) (int64, error) {
	args := m.Called(ctx, opp)
	return args.Get(0).(int64), args.Error(1)
}

// SaveOrder returns the configured order, or the result of a func(model.Order) model.Order.
func (m *MockRepository) SaveOrder(ctx context.Context, order model.Order) (model.Order, error) {
	args := m.Called(ctx, order)
	if fn, ok := args.Get(0).(func(model.Order) model.Order); ok {
		return fn(order), args.Error(1)
	}
	return args.Get(0).(model.Order), args.Error(1)
}

func (m *MockRepository) SaveLoopResult(ctx context.Context, result model.LoopResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decEq matches a decimal argument by value rather than by representation.
func decEq(s string) any {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func ticker(buy, sell string) model.Ticker {
	return model.Ticker{BuyPrice: dec(buy), SellPrice: dec(sell)}
}

// sampleTickers prices a USD/BTC/ETH universe where BTC_USD>ETH_BTC>ETH_USD is profitable
// with market orders.
func sampleTickers() map[string]model.Ticker {
	return map[string]model.Ticker{
		"BTC_USD": ticker("10000", "10010"),
		"ETH_BTC": ticker("0.05", "0.0501"),
		"ETH_USD": ticker("505", "506"),
	}
}

var sampleCurrencies = []string{"USD", "BTC", "ETH"}
