package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"triarb/internal/model"
)

// Client defines the standard interface for all exchange clients.
type Client interface {
	GetName() string

	GetTickers(ctx context.Context) (map[string]model.Ticker, error)
	GetOrderBook(ctx context.Context, pairs []string, depth int) (map[string]model.OrderBook, error)
	GetFees(ctx context.Context) (model.Fees, error)
	GetCurrencies(ctx context.Context) ([]string, error)

	PlaceLimitBuy(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error)
	PlaceLimitSell(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error)
	// PlaceMarketBuyTotal buys pair for amount of the quote currency.
	PlaceMarketBuyTotal(ctx context.Context, pair string, amount decimal.Decimal) (int64, error)
	PlaceMarketSell(ctx context.Context, pair string, quantity decimal.Decimal) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error

	GetUserOpenOrders(ctx context.Context) (map[string][]model.OpenOrder, error)
	// GetOrderTrades returns nil when the exchange has no trades for the order.
	GetOrderTrades(ctx context.Context, orderID int64) (*model.OrderTrades, error)
}
