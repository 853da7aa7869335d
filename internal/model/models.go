package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order relative to the pair's base currency.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects how orders are executed.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of one leg order.
type OrderStatus string

const (
	StatusPlacing   OrderStatus = "placing"
	StatusOpen      OrderStatus = "open"
	StatusCompleted OrderStatus = "completed"
	StatusCanceled  OrderStatus = "canceled"
	StatusFailed    OrderStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// NoExchangeOrderID marks an order the exchange has not accepted yet.
const NoExchangeOrderID int64 = -1

// Ticker is a price snapshot of one pair. It is replaced wholesale on every poll.
type Ticker struct {
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Avg       decimal.Decimal `json:"avg"`
	Vol       decimal.Decimal `json:"vol"`
	VolCurr   decimal.Decimal `json:"vol_curr"`
	LastTrade decimal.Decimal `json:"last_trade"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Updated   time.Time       `json:"updated"`
}

// PairAndRate is one leg of a triangle priced against the current tickers.
type PairAndRate struct {
	Pair string
	// CalcRate is normalized and fee-adjusted: units of the acquired currency per unit spent,
	// whatever the side of the order.
	CalcRate decimal.Decimal
	// OrderRate is the price submitted to the exchange.
	OrderRate decimal.Decimal
	Side      OrderSide
}

// Opportunity is a priced triangle, keyed by Path.
type Opportunity struct {
	ID            int64
	Path          string
	Legs          [3]PairAndRate
	Gain          decimal.Decimal
	OrderType     OrderType
	QuoteCurrency string
	Created       time.Time
}

// Pairs returns the pair names of the three legs in execution order.
func (o Opportunity) Pairs() []string {
	return []string{o.Legs[0].Pair, o.Legs[1].Pair, o.Legs[2].Pair}
}

// Order is an immutable record of one leg order. Transitions return a new value.
type Order struct {
	ID            int64
	ExchOrderID   int64
	OpportunityID int64
	Created       time.Time
	Pair          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Side          OrderSide
	Type          OrderType
	Status        OrderStatus
	Error         string
}

func (o Order) WithStatus(status OrderStatus) Order {
	o.Status = status
	return o
}

func (o Order) WithExchOrderID(id int64) Order {
	o.ExchOrderID = id
	return o
}

func (o Order) WithError(err error) Order {
	o.Status = StatusFailed
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// BookLevel is one price level of an order book: price, quantity and amount (price*quantity).
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Amount   decimal.Decimal
}

// OrderBook holds both sides of a pair's book, best price first.
type OrderBook struct {
	Ask []BookLevel
	Bid []BookLevel
}

// OpenOrder is an active order as listed by the exchange.
type OpenOrder struct {
	OrderID  int64
	Created  time.Time
	Type     string
	Pair     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Amount   decimal.Decimal
}

// Trade is a single fill of an order.
type Trade struct {
	TradeID  int64
	Date     time.Time
	Type     string
	Pair     string
	OrderID  int64
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Amount   decimal.Decimal
}

// OrderTrades is the fill history of one order.
type OrderTrades struct {
	Type        string
	InCurrency  string
	InAmount    decimal.Decimal
	OutCurrency string
	OutAmount   decimal.Decimal
	Trades      []Trade
}

// Fees is the exchange fee schedule as fractions (0.002 = 0.2%).
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// For returns the fee paid by orders of the given type: market orders take liquidity.
func (f Fees) For(t OrderType) decimal.Decimal {
	if t == OrderTypeMarket {
		return f.Taker
	}
	return f.Maker
}

// LoopStatus is the outcome of one arbitrage loop.
type LoopStatus string

const (
	LoopCompleted LoopStatus = "completed"
	LoopFailed    LoopStatus = "failed"
	LoopAborted   LoopStatus = "aborted"
)

// LoopResult summarizes a finished loop. Currency and FinalAmount hold the position at the
// end, which is the quote currency only for completed loops.
type LoopResult struct {
	LoopID        string
	OpportunityID int64
	Path          string
	Status        LoopStatus
	LegsCompleted int
	Currency      string
	InitialAmount decimal.Decimal
	FinalAmount   decimal.Decimal
	PnL           decimal.Decimal
	Started       time.Time
	Finished      time.Time
	Error         string
}
