package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/model"
)

// SignalHandler receives the best triangle found by an indicator update.
// Handlers run inline on the polling goroutine and must return quickly.
type SignalHandler func(ctx context.Context, opp model.Opportunity)

// IndicatorConfig configures one Indicator.
type IndicatorConfig struct {
	QuoteCurrency string
	Currencies    []string
	OrderType     model.OrderType
	Fee           decimal.Decimal
	LimitOffset   decimal.Decimal
	// GainMinLimit gates signaling: the best gain must be >= this value, in addition to
	// being strictly positive. Zero disables the gate.
	GainMinLimit decimal.Decimal
}

// Indicator tracks triangles that start and end in a fixed quote currency, e.g.
// BTC_USD>ETH_BTC>ETH_USD for USD, and signals the best one whenever its gain is positive.
type Indicator struct {
	logger     *slog.Logger
	cfg        IndicatorConfig
	calculator RateCalculator
	opps       map[string]model.Opportunity
	handlers   handlerList[SignalHandler]
}

// NewIndicator creates a new Indicator with the calculator matching cfg.OrderType.
func NewIndicator(logger *slog.Logger, cfg IndicatorConfig) *Indicator {
	ind := &Indicator{
		logger:     logger,
		cfg:        cfg,
		calculator: NewRateCalculator(cfg.OrderType, cfg.Fee, cfg.LimitOffset),
		opps:       make(map[string]model.Opportunity),
	}
	logger.Info("Starting triangular arbitrage indicator",
		"quote", cfg.QuoteCurrency,
		"orderType", cfg.OrderType,
		"fee", cfg.Fee,
		"currencies", len(cfg.Currencies),
	)
	return ind
}

// QuoteCurrency returns the currency loops start from and return to.
func (ind *Indicator) QuoteCurrency() string {
	return ind.cfg.QuoteCurrency
}

// RegisterSignalHandler adds fn to the handler list. Handlers are called in registration
// order. The returned func removes the handler.
func (ind *Indicator) RegisterSignalHandler(fn SignalHandler) (unregister func()) {
	return ind.handlers.add(fn)
}

// Update prices every triangle against tickers, refreshes the opportunity cache and
// signals the best triangle if its gain is positive.
func (ind *Indicator) Update(ctx context.Context, tickers map[string]model.Ticker) {
	ind.calculator.SetTickers(tickers)
	quote := ind.cfg.QuoteCurrency
	now := time.Now()

	var best model.Opportunity
	found := false

	for _, curr1 := range ind.cfg.Currencies {
		if curr1 == quote {
			continue
		}
		// acquire curr1 with the quote currency
		leg1, ok := ind.calculator.PairAndRate(curr1, quote)
		if !ok {
			continue
		}

		for _, curr2 := range ind.cfg.Currencies {
			if curr2 == quote || curr2 == curr1 {
				continue
			}
			// acquire curr2 with curr1
			leg2, ok := ind.calculator.PairAndRate(curr2, curr1)
			if !ok {
				continue
			}
			// close the loop: acquire the quote currency with curr2
			leg3, ok := ind.calculator.PairAndRate(quote, curr2)
			if !ok {
				continue
			}

			opp := model.Opportunity{
				Path:          leg1.Pair + ">" + leg2.Pair + ">" + leg3.Pair,
				Legs:          [3]model.PairAndRate{leg1, leg2, leg3},
				Gain:          Gain(leg1.CalcRate, leg2.CalcRate, leg3.CalcRate),
				OrderType:     ind.cfg.OrderType,
				QuoteCurrency: quote,
				Created:       now,
			}
			ind.opps[opp.Path] = opp

			if !found || opp.Gain.GreaterThan(best.Gain) {
				best, found = opp, true
			}
		}
	}

	if !found || !best.Gain.IsPositive() || best.Gain.LessThan(ind.cfg.GainMinLimit) {
		ind.logger.Debug("No arbitrage opportunities", "quote", quote, "orderType", ind.cfg.OrderType)
		return
	}

	ind.logger.Info("Arbitrage opportunity",
		"quote", quote,
		"orderType", ind.cfg.OrderType,
		"gain", best.Gain,
		"path", best.Path,
		"rate1", best.Legs[0].OrderRate,
		"rate2", best.Legs[1].OrderRate,
		"rate3", best.Legs[2].OrderRate,
	)
	ind.signal(ctx, best)
}

func (ind *Indicator) signal(ctx context.Context, opp model.Opportunity) {
	for _, fn := range ind.handlers.snapshot() {
		fn(ctx, opp)
	}
}

// Opportunities returns a copy of the latest priced triangles keyed by path.
func (ind *Indicator) Opportunities() map[string]model.Opportunity {
	out := make(map[string]model.Opportunity, len(ind.opps))
	for path, opp := range ind.opps {
		out[path] = opp
	}
	return out
}

// Opportunity returns the latest pricing of one path.
func (ind *Indicator) Opportunity(path string) (model.Opportunity, bool) {
	opp, ok := ind.opps[path]
	return opp, ok
}

// Gain is the profit of a cycle per unit, computed from the normalized leg rates:
// r2*r3 - 1/r1.
func Gain(r1, r2, r3 decimal.Decimal) decimal.Decimal {
	return r2.Mul(r3).Sub(one.DivRound(r1, divPrecision))
}
