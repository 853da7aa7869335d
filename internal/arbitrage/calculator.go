package arbitrage

import (
	"github.com/shopspring/decimal"

	"triarb/internal/model"
)

// divPrecision is the number of decimal places kept by rate divisions.
const divPrecision int32 = 24

var one = decimal.NewFromInt(1)

// RateCalculator prices one leg of a triangle from the current tickers.
//
// PairAndRate looks for a market to acquire currency `acquire` by spending currency `spend`,
// either the direct pair acquire_spend (a buy) or the inverse pair spend_acquire (a sell).
// It returns false when neither pair is listed.
//
// The returned CalcRate is always normalized to "units of acquire obtained per unit of spend",
// with the fee already deducted, regardless of the order side. This is what lets three legs
// be multiplied together to evaluate a cycle.
type RateCalculator interface {
	SetTickers(tickers map[string]model.Ticker)
	PairAndRate(acquire, spend string) (model.PairAndRate, bool)
}

// NewRateCalculator returns the calculator for the given order type.
func NewRateCalculator(orderType model.OrderType, fee, limitOffset decimal.Decimal) RateCalculator {
	if orderType == model.OrderTypeLimit {
		return &LimitCalculator{fee: fee, offset: limitOffset}
	}
	return &MarketCalculator{fee: fee}
}

func pairName(base, quote string) string {
	return base + "_" + quote
}

// MarketCalculator prices legs executed as market orders: buys fill at the ask
// (ticker sell price) and sells at the bid (ticker buy price).
type MarketCalculator struct {
	fee     decimal.Decimal
	tickers map[string]model.Ticker
}

func NewMarketCalculator(fee decimal.Decimal) *MarketCalculator {
	return &MarketCalculator{fee: fee}
}

func (c *MarketCalculator) SetTickers(tickers map[string]model.Ticker) {
	c.tickers = tickers
}

func (c *MarketCalculator) PairAndRate(acquire, spend string) (model.PairAndRate, bool) {
	kept := one.Sub(c.fee)

	direct := pairName(acquire, spend)
	if t, ok := c.tickers[direct]; ok && t.SellPrice.IsPositive() {
		return model.PairAndRate{
			Pair:      direct,
			CalcRate:  kept.DivRound(t.SellPrice, divPrecision),
			OrderRate: t.SellPrice,
			Side:      model.SideBuy,
		}, true
	}

	inverse := pairName(spend, acquire)
	if t, ok := c.tickers[inverse]; ok && t.BuyPrice.IsPositive() {
		return model.PairAndRate{
			Pair:      inverse,
			CalcRate:  kept.Mul(t.BuyPrice),
			OrderRate: t.BuyPrice,
			Side:      model.SideSell,
		}, true
	}
	return model.PairAndRate{}, false
}

// LimitCalculator prices legs executed as limit orders placed on our own side of the
// spread, moved inwards by offset so they are more likely to fill.
type LimitCalculator struct {
	fee     decimal.Decimal
	offset  decimal.Decimal
	tickers map[string]model.Ticker
}

func NewLimitCalculator(fee, offset decimal.Decimal) *LimitCalculator {
	return &LimitCalculator{fee: fee, offset: offset}
}

func (c *LimitCalculator) SetTickers(tickers map[string]model.Ticker) {
	c.tickers = tickers
}

func (c *LimitCalculator) PairAndRate(acquire, spend string) (model.PairAndRate, bool) {
	kept := one.Sub(c.fee)

	direct := pairName(acquire, spend)
	if t, ok := c.tickers[direct]; ok && t.BuyPrice.IsPositive() {
		price := t.BuyPrice.Mul(one.Add(c.offset))
		return model.PairAndRate{
			Pair:      direct,
			CalcRate:  kept.DivRound(price, divPrecision),
			OrderRate: price,
			Side:      model.SideBuy,
		}, true
	}

	inverse := pairName(spend, acquire)
	if t, ok := c.tickers[inverse]; ok && t.SellPrice.IsPositive() {
		price := t.SellPrice.Mul(one.Sub(c.offset))
		return model.PairAndRate{
			Pair:      inverse,
			CalcRate:  kept.Mul(price),
			OrderRate: price,
			Side:      model.SideSell,
		}, true
	}
	return model.PairAndRate{}, false
}
