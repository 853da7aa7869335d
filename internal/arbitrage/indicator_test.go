package arbitrage

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triarb/internal/model"
)

func newTestIndicator(gainMin string) *Indicator {
	return NewIndicator(testLogger(), IndicatorConfig{
		QuoteCurrency: "USD",
		Currencies:    sampleCurrencies,
		OrderType:     model.OrderTypeMarket,
		Fee:           dec("0.002"),
		GainMinLimit:  dec(gainMin),
	})
}

func TestIndicator_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("signals the best triangle", func(t *testing.T) {
		ind := newTestIndicator("0")
		var signals []model.Opportunity
		ind.RegisterSignalHandler(func(_ context.Context, opp model.Opportunity) {
			signals = append(signals, opp)
		})

		ind.Update(ctx, sampleTickers())

		require.Len(t, signals, 1)
		opp := signals[0]
		assert.Equal(t, "BTC_USD>ETH_BTC>ETH_USD", opp.Path)
		assert.Equal(t, "USD", opp.QuoteCurrency)
		assert.Equal(t, model.OrderTypeMarket, opp.OrderType)
		assert.InDelta(t, 9.50115720463, opp.Gain.InexactFloat64(), 1e-9)
		assert.Equal(t, []model.OrderSide{model.SideBuy, model.SideBuy, model.SideSell},
			[]model.OrderSide{opp.Legs[0].Side, opp.Legs[1].Side, opp.Legs[2].Side})
		assert.Equal(t, []string{"BTC_USD", "ETH_BTC", "ETH_USD"}, opp.Pairs())

		other, ok := ind.Opportunity("ETH_USD>ETH_BTC>BTC_USD")
		require.True(t, ok)
		assert.InDelta(t, -9.01202, other.Gain.InexactFloat64(), 1e-5)
		assert.Len(t, ind.Opportunities(), 2)
	})

	t.Run("no signal when every gain is negative", func(t *testing.T) {
		ind := newTestIndicator("0")
		called := false
		ind.RegisterSignalHandler(func(context.Context, model.Opportunity) { called = true })

		tickers := sampleTickers()
		tickers["ETH_USD"] = ticker("500", "501")
		ind.Update(ctx, tickers)

		assert.False(t, called)
		assert.Len(t, ind.Opportunities(), 2)
	})

	t.Run("gain below the minimum limit is not signaled", func(t *testing.T) {
		ind := newTestIndicator("10")
		called := false
		ind.RegisterSignalHandler(func(context.Context, model.Opportunity) { called = true })

		ind.Update(ctx, sampleTickers())
		assert.False(t, called)
	})

	t.Run("missing market drops the triangle", func(t *testing.T) {
		ind := newTestIndicator("0")
		tickers := sampleTickers()
		delete(tickers, "ETH_BTC")
		ind.Update(ctx, tickers)
		assert.Empty(t, ind.Opportunities())
	})

	t.Run("cache is overwritten by the next update", func(t *testing.T) {
		ind := newTestIndicator("0")
		ind.Update(ctx, sampleTickers())
		first, _ := ind.Opportunity("BTC_USD>ETH_BTC>ETH_USD")

		tickers := sampleTickers()
		tickers["ETH_USD"] = ticker("500", "501")
		ind.Update(ctx, tickers)
		second, _ := ind.Opportunity("BTC_USD>ETH_BTC>ETH_USD")

		assert.True(t, second.Gain.LessThan(first.Gain))
		assert.True(t, second.Legs[2].OrderRate.Equal(dec("500")))
	})

	t.Run("unregistered handler is not called", func(t *testing.T) {
		ind := newTestIndicator("0")
		var calls []string
		unregister := ind.RegisterSignalHandler(func(context.Context, model.Opportunity) { calls = append(calls, "a") })
		ind.RegisterSignalHandler(func(context.Context, model.Opportunity) { calls = append(calls, "b") })

		ind.Update(ctx, sampleTickers())
		unregister()
		ind.Update(ctx, sampleTickers())

		assert.Equal(t, []string{"a", "b", "b"}, calls)
	})
}

func TestIndicator_OpportunitiesReturnsCopy(t *testing.T) {
	ind := newTestIndicator("0")
	ind.Update(context.Background(), sampleTickers())

	opps := ind.Opportunities()
	delete(opps, "BTC_USD>ETH_BTC>ETH_USD")

	_, ok := ind.Opportunity("BTC_USD>ETH_BTC>ETH_USD")
	assert.True(t, ok)
}

func TestGain_SignMatchesCycleProduct(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	randRate := func() decimal.Decimal {
		return decimal.NewFromFloat(0.01 + rnd.Float64()*100).Round(8)
	}

	for i := 0; i < 1000; i++ {
		r1, r2, r3 := randRate(), randRate(), randRate()
		product := r1.Mul(r2).Mul(r3)
		if product.Sub(one).Abs().LessThan(dec("0.000001")) {
			continue
		}
		gain := Gain(r1, r2, r3)
		assert.Equal(t, product.GreaterThan(one), gain.IsPositive(), "r1=%s r2=%s r3=%s", r1, r2, r3)
	}
}
