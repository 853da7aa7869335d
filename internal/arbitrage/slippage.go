package arbitrage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"triarb/internal/model"
)

// LegFill is the simulated execution of one leg against its order book.
type LegFill struct {
	// Spent is the amount consumed from the book: quote amount for a buy, base quantity for a sell.
	Spent decimal.Decimal
	// Received is what the book gives back before fees.
	Received decimal.Decimal
	// Acquired is Received net of the fee; it funds the next leg.
	Acquired decimal.Decimal
	Rate     decimal.Decimal
}

// SlippageEstimate is a triangle re-priced against order book depth for a given amount.
type SlippageEstimate struct {
	Fills    [3]LegFill
	Rates    [3]decimal.Decimal
	Gain     decimal.Decimal
	Acquired decimal.Decimal
	PnL      decimal.Decimal
}

// SlippageEstimator walks order books leg by leg to find the rates a trade of a given
// size would really get.
type SlippageEstimator struct {
	fee decimal.Decimal
}

func NewSlippageEstimator(fee decimal.Decimal) SlippageEstimator {
	return SlippageEstimator{fee: fee}
}

// Estimate spends amount (in the quote currency) on legs in sequence, each leg's acquired
// amount funding the next. PnL is what the loop would return minus amount.
func (e SlippageEstimator) Estimate(legs [3]model.PairAndRate, amount decimal.Decimal, books map[string]model.OrderBook) (SlippageEstimate, error) {
	if !amount.IsPositive() {
		return SlippageEstimate{}, ErrInvalidAmount
	}

	var est SlippageEstimate
	spend := amount
	for i, leg := range legs {
		book, ok := books[leg.Pair]
		if !ok {
			return SlippageEstimate{}, fmt.Errorf("%w: no order book for %s", ErrInsufficientDepth, leg.Pair)
		}
		fill, err := e.fill(spend, book, leg.Side)
		if err != nil {
			return SlippageEstimate{}, fmt.Errorf("leg %d %s: %w", i+1, leg.Pair, err)
		}
		est.Fills[i] = fill
		est.Rates[i] = fill.Rate
		spend = fill.Acquired
	}

	est.Gain = Gain(est.Rates[0], est.Rates[1], est.Rates[2])
	est.Acquired = spend
	est.PnL = spend.Sub(amount)
	return est, nil
}

// fill consumes book levels until spend is covered. A buy spends quote currency
// against the asks, so the target is in amount terms; a sell spends base currency against
// the bids, so the target is in quantity terms. The last level is trimmed at its price.
func (e SlippageEstimator) fill(spend decimal.Decimal, book model.OrderBook, side model.OrderSide) (LegFill, error) {
	levels := book.Bid
	if side == model.SideBuy {
		levels = book.Ask
	}

	var quantity, amount, lastPrice decimal.Decimal
	reached := false
	for _, lvl := range levels {
		lastPrice = lvl.Price
		quantity = quantity.Add(lvl.Quantity)
		amount = amount.Add(lvl.Amount)

		total := quantity
		if side == model.SideBuy {
			total = amount
		}
		if total.GreaterThanOrEqual(spend) {
			reached = true
			break
		}
	}
	if !reached || !lastPrice.IsPositive() {
		return LegFill{}, fmt.Errorf("%w: %d levels cover less than %s", ErrInsufficientDepth, len(levels), spend)
	}

	if side == model.SideBuy {
		if amount.GreaterThan(spend) {
			quantity = quantity.Sub(amount.Sub(spend).DivRound(lastPrice, divPrecision))
			amount = spend
		}
	} else if quantity.GreaterThan(spend) {
		amount = amount.Sub(quantity.Sub(spend).Mul(lastPrice))
		quantity = spend
	}

	kept := one.Sub(e.fee)
	if side == model.SideBuy {
		return LegFill{
			Spent:    amount,
			Received: quantity,
			Acquired: quantity.Mul(kept),
			Rate:     kept.Mul(quantity).DivRound(amount, divPrecision),
		}, nil
	}
	return LegFill{
		Spent:    quantity,
		Received: amount,
		Acquired: amount.Mul(kept),
		Rate:     kept.Mul(amount).DivRound(quantity, divPrecision),
	}, nil
}
