package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"triarb/internal/model"
)

// OrderExchange is the part of the exchange client the trader drives.
type OrderExchange interface {
	PlaceLimitBuy(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error)
	PlaceLimitSell(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error)
	PlaceMarketBuyTotal(ctx context.Context, pair string, amount decimal.Decimal) (int64, error)
	PlaceMarketSell(ctx context.Context, pair string, quantity decimal.Decimal) (int64, error)
	CancelOrder(ctx context.Context, orderID int64) error
	GetUserOpenOrders(ctx context.Context) (map[string][]model.OpenOrder, error)
	// GetOrderTrades returns nil when the order has no trades.
	GetOrderTrades(ctx context.Context, orderID int64) (*model.OrderTrades, error)
}

// OrderUpdateHandler is called on every order status transition. The returned order
// replaces the trader's copy, which lets persistence assign ids.
type OrderUpdateHandler func(ctx context.Context, order model.Order) model.Order

// LoopHandler receives the result of every finished loop.
type LoopHandler func(ctx context.Context, result model.LoopResult)

// TraderConfig configures a Trader.
type TraderConfig struct {
	OrderType model.OrderType
	// PaperTrading disables order submission entirely.
	PaperTrading bool
	// Fee is deducted from the amount reported by the exchange for each filled order.
	Fee decimal.Decimal
}

// Trader executes the three legs of an opportunity one after another, feeding the amount
// acquired by each leg into the next. At most one loop is in progress at a time.
//
// Trader is not safe for concurrent use; it is driven by the polling goroutine.
type Trader struct {
	logger   *slog.Logger
	exchange OrderExchange
	cfg      TraderConfig

	orderHandlers handlerList[OrderUpdateHandler]
	loopHandlers  handlerList[LoopHandler]

	loopID        string
	legs          [3]model.PairAndRate
	legIdx        int
	legsCompleted int
	opportunityID int64
	started       time.Time

	current          *model.Order
	startCurrency    string
	acquiredCurrency string
	acquiredAmount   decimal.Decimal
	initialAmount    decimal.Decimal
}

// NewTrader creates a new idle Trader.
func NewTrader(logger *slog.Logger, exchange OrderExchange, cfg TraderConfig) *Trader {
	return &Trader{
		logger:   logger,
		exchange: exchange,
		cfg:      cfg,
	}
}

// RegisterOrderUpdateHandler adds a handler for order transitions and returns its removal func.
func (t *Trader) RegisterOrderUpdateHandler(fn OrderUpdateHandler) (unregister func()) {
	return t.orderHandlers.add(fn)
}

// RegisterLoopHandler adds a handler for loop results and returns its removal func.
func (t *Trader) RegisterLoopHandler(fn LoopHandler) (unregister func()) {
	return t.loopHandlers.add(fn)
}

// IsLoopInProgress reports whether a loop has an order in flight. No new loop may be
// started while it returns true.
func (t *Trader) IsLoopInProgress() bool {
	return t.current != nil
}

// CurrentOrder returns the order of the leg being executed.
func (t *Trader) CurrentOrder() (model.Order, bool) {
	if t.current == nil {
		return model.Order{}, false
	}
	return *t.current, true
}

// StartArbLoop starts executing legs with amount of the first leg's spend currency and
// places the first order. It does nothing while another loop is in progress or in
// paper trading mode.
func (t *Trader) StartArbLoop(ctx context.Context, legs [3]model.PairAndRate, opportunityID int64, amount decimal.Decimal) error {
	if t.cfg.PaperTrading || t.current != nil {
		return nil
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	t.loopID = uuid.NewString()
	t.legs = legs
	t.legIdx = 0
	t.legsCompleted = 0
	t.opportunityID = opportunityID
	t.started = time.Now()
	t.initialAmount = amount
	t.acquiredAmount = amount
	t.startCurrency = spendCurrency(legs[0])
	t.acquiredCurrency = t.startCurrency

	t.logger.Info("Triarb sequence started",
		"loopID", t.loopID,
		"opportunityID", opportunityID,
		"path", loopPath(legs),
		"amount", amount,
		"currency", t.startCurrency,
	)
	return t.placeOrder(ctx)
}

// Update checks the current order and moves the loop forward once it has filled.
// It must be called once per polling tick.
func (t *Trader) Update(ctx context.Context) error {
	if t.cfg.PaperTrading || t.current == nil {
		return nil
	}

	open, err := t.exchange.GetUserOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("trader: get open orders: %w", err)
	}
	for _, o := range open[t.current.Pair] {
		if o.OrderID == t.current.ExchOrderID {
			return nil
		}
	}

	trades, err := t.exchange.GetOrderTrades(ctx, t.current.ExchOrderID)
	if err != nil {
		return fmt.Errorf("trader: get order trades %d: %w", t.current.ExchOrderID, err)
	}
	if trades == nil || (len(trades.Trades) == 0 && !trades.InAmount.IsPositive()) {
		err := fmt.Errorf("%w: order %d on %s", ErrOrderVanished, t.current.ExchOrderID, t.current.Pair)
		t.logger.Error("Order is no longer open but has no trades", "loopID", t.loopID, "error", err)
		return t.failLoop(ctx, err)
	}

	// the exchange reports the order amount before fees, not what lands on the balance
	t.acquiredCurrency = trades.InCurrency
	t.acquiredAmount = trades.InAmount.Mul(one.Sub(t.cfg.Fee))
	t.logger.Info("Order executed",
		"loopID", t.loopID,
		"exchOrderID", t.current.ExchOrderID,
		"acquired", t.acquiredAmount,
		"currency", t.acquiredCurrency,
	)

	t.transition(ctx, t.current.WithStatus(model.StatusCompleted))
	t.legsCompleted++

	if t.legIdx < len(t.legs)-1 {
		t.legIdx++
		return t.placeOrder(ctx)
	}

	result := t.finishLoop(ctx, model.LoopCompleted, nil)
	t.logger.Info("Triarb sequence finished",
		"loopID", result.LoopID,
		"pnl", result.PnL,
		"currency", result.Currency,
	)
	return nil
}

// Abort cancels the open order of an in-progress loop and reports the position held at
// that point. It returns nil when no loop is in progress. If the exchange refuses the
// cancel the loop stays in progress.
func (t *Trader) Abort(ctx context.Context, reason string) (*model.LoopResult, error) {
	if t.current == nil {
		return nil, nil
	}

	if t.current.Status == model.StatusOpen {
		if err := t.exchange.CancelOrder(ctx, t.current.ExchOrderID); err != nil {
			return nil, fmt.Errorf("trader: cancel order %d: %w", t.current.ExchOrderID, err)
		}
	}
	canceled := t.current.WithStatus(model.StatusCanceled)
	canceled.Error = reason
	t.transition(ctx, canceled)

	result := t.finishLoop(ctx, model.LoopAborted, errors.New(reason))
	t.logger.Warn("Triarb sequence aborted",
		"loopID", result.LoopID,
		"reason", reason,
		"legsCompleted", result.LegsCompleted,
		"holding", result.FinalAmount,
		"currency", result.Currency,
	)
	return &result, nil
}

func (t *Trader) placeOrder(ctx context.Context) error {
	leg := t.legs[t.legIdx]

	// a limit buy is sized in base currency; market buy-total orders and all sells
	// take the amount held
	quantity := t.acquiredAmount
	if t.cfg.OrderType == model.OrderTypeLimit && leg.Side == model.SideBuy {
		quantity = t.acquiredAmount.DivRound(leg.OrderRate, divPrecision)
	}

	order := model.Order{
		ExchOrderID:   model.NoExchangeOrderID,
		OpportunityID: t.opportunityID,
		Created:       time.Now(),
		Pair:          leg.Pair,
		Quantity:      quantity,
		Price:         leg.OrderRate,
		Side:          leg.Side,
		Type:          t.cfg.OrderType,
		Status:        model.StatusPlacing,
	}
	t.transition(ctx, order)

	exchOrderID, err := t.submit(ctx, leg, quantity)
	if err != nil {
		return t.failLoop(ctx, fmt.Errorf("%w: leg %d %s: %w", ErrOrderSubmission, t.legIdx+1, leg.Pair, err))
	}

	t.transition(ctx, t.current.WithExchOrderID(exchOrderID).WithStatus(model.StatusOpen))
	t.logger.Info("Order placed",
		"loopID", t.loopID,
		"leg", t.legIdx+1,
		"pair", leg.Pair,
		"side", leg.Side,
		"quantity", quantity,
		"price", leg.OrderRate,
		"exchOrderID", exchOrderID,
	)
	return nil
}

func (t *Trader) submit(ctx context.Context, leg model.PairAndRate, quantity decimal.Decimal) (int64, error) {
	if t.cfg.OrderType == model.OrderTypeLimit {
		if leg.Side == model.SideBuy {
			return t.exchange.PlaceLimitBuy(ctx, leg.Pair, quantity, leg.OrderRate)
		}
		return t.exchange.PlaceLimitSell(ctx, leg.Pair, quantity, leg.OrderRate)
	}
	if leg.Side == model.SideBuy {
		// the price is not needed, quantity is the amount to spend
		return t.exchange.PlaceMarketBuyTotal(ctx, leg.Pair, quantity)
	}
	return t.exchange.PlaceMarketSell(ctx, leg.Pair, quantity)
}

// transition makes order the current one and passes it through the order handlers.
func (t *Trader) transition(ctx context.Context, order model.Order) {
	for _, fn := range t.orderHandlers.snapshot() {
		order = fn(ctx, order)
	}
	t.current = &order
}

// failLoop marks the current order failed, rolls the trader back to idle and reports the
// partial position. It returns cause.
func (t *Trader) failLoop(ctx context.Context, cause error) error {
	if t.current != nil {
		t.transition(ctx, t.current.WithError(cause))
	}
	result := t.finishLoop(ctx, model.LoopFailed, cause)
	t.logger.Error("Triarb sequence failed",
		"loopID", result.LoopID,
		"legsCompleted", result.LegsCompleted,
		"holding", result.FinalAmount,
		"currency", result.Currency,
		"error", cause,
	)
	return cause
}

func (t *Trader) finishLoop(ctx context.Context, status model.LoopStatus, cause error) model.LoopResult {
	result := model.LoopResult{
		LoopID:        t.loopID,
		OpportunityID: t.opportunityID,
		Path:          loopPath(t.legs),
		Status:        status,
		LegsCompleted: t.legsCompleted,
		Currency:      t.acquiredCurrency,
		InitialAmount: t.initialAmount,
		FinalAmount:   t.acquiredAmount,
		Started:       t.started,
		Finished:      time.Now(),
	}
	if t.acquiredCurrency == t.startCurrency {
		result.PnL = t.acquiredAmount.Sub(t.initialAmount)
	}
	if cause != nil {
		result.Error = cause.Error()
	}

	t.current = nil
	t.legIdx = 0
	t.legsCompleted = 0

	for _, fn := range t.loopHandlers.snapshot() {
		fn(ctx, result)
	}
	return result
}

// spendCurrency is the currency a leg consumes: the quote of a buy, the base of a sell.
func spendCurrency(leg model.PairAndRate) string {
	base, quote, ok := strings.Cut(leg.Pair, "_")
	if !ok {
		return ""
	}
	if leg.Side == model.SideBuy {
		return quote
	}
	return base
}

func loopPath(legs [3]model.PairAndRate) string {
	return legs[0].Pair + ">" + legs[1].Pair + ">" + legs[2].Pair
}
