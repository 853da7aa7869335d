package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/config"
	"triarb/internal/database"
	"triarb/internal/model"
)

// TickerSource provides the latest ticker snapshot keyed by pair.
type TickerSource interface {
	GetTickers(ctx context.Context) (map[string]model.Ticker, error)
}

// Exchange is the exchange client used by the Strategy.
type Exchange interface {
	OrderExchange
	TickerSource
	GetOrderBook(ctx context.Context, pairs []string, depth int) (map[string]model.OrderBook, error)
	GetFees(ctx context.Context) (model.Fees, error)
	GetCurrencies(ctx context.Context) ([]string, error)
}

// StrategyOption customizes a Strategy.
type StrategyOption func(*Strategy)

// WithTickerSource replaces REST ticker polling, e.g. with a websocket stream.
func WithTickerSource(src TickerSource) StrategyOption {
	return func(s *Strategy) {
		s.tickers = src
	}
}

// Strategy wires one Indicator per quote currency to a single Trader and persists
// everything they produce.
type Strategy struct {
	logger   *slog.Logger
	exchange Exchange
	tickers  TickerSource
	repo     database.Repository
	cfg      config.ArbitrageConfig

	orderType  model.OrderType
	pnlMin     decimal.Decimal
	indicators []*Indicator
	trader     *Trader
	slippage   SlippageEstimator

	unregister []func()
	polls      int
	// errors raised inside signal handlers, returned by the next Update
	pending []error
}

// NewStrategy fetches fees and the currency universe, then builds the indicators and the
// trader. Quote currencies not listed on the exchange are skipped.
func NewStrategy(ctx context.Context, logger *slog.Logger, exchange Exchange, repo database.Repository, cfg config.ArbitrageConfig, opts ...StrategyOption) (*Strategy, error) {
	orderType := model.OrderType(cfg.OrderType)
	if orderType != model.OrderTypeMarket && orderType != model.OrderTypeLimit {
		return nil, fmt.Errorf("strategy: unknown order type %q", cfg.OrderType)
	}

	fees, err := exchange.GetFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy: get fees: %w", err)
	}
	currencies := cfg.Currencies
	if len(currencies) == 0 {
		currencies, err = exchange.GetCurrencies(ctx)
		if err != nil {
			return nil, fmt.Errorf("strategy: get currencies: %w", err)
		}
	}
	fee := fees.For(orderType)

	s := &Strategy{
		logger:    logger,
		exchange:  exchange,
		tickers:   exchange,
		repo:      repo,
		cfg:       cfg,
		orderType: orderType,
		pnlMin:    decimal.NewFromFloat(cfg.PnLMinLimit),
		slippage:  NewSlippageEstimator(fee),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.trader = NewTrader(logger, exchange, TraderConfig{
		OrderType:    orderType,
		PaperTrading: cfg.PaperTrading,
		Fee:          fee,
	})

	for _, quote := range cfg.QuoteCurrencies {
		if !slices.Contains(currencies, quote) {
			logger.Warn("Quote currency is not traded, skipping", "quote", quote)
			continue
		}
		if amount := cfg.TradingAmounts[quote]; amount <= 0 {
			return nil, fmt.Errorf("strategy: quote %s: %w", quote, ErrInvalidAmount)
		}
		ind := NewIndicator(logger, IndicatorConfig{
			QuoteCurrency: quote,
			Currencies:    currencies,
			OrderType:     orderType,
			Fee:           fee,
			LimitOffset:   decimal.NewFromFloat(cfg.LimitRateOffset),
			GainMinLimit:  decimal.NewFromFloat(cfg.GainMinLimit),
		})
		s.unregister = append(s.unregister, ind.RegisterSignalHandler(s.handleSignal))
		s.indicators = append(s.indicators, ind)
	}

	s.unregister = append(s.unregister,
		s.trader.RegisterOrderUpdateHandler(s.handleOrderUpdate),
		s.trader.RegisterLoopHandler(s.handleLoopResult),
	)

	logger.Info("Strategy started",
		"orderType", orderType,
		"paperTrading", cfg.PaperTrading,
		"fee", fee,
		"indicators", len(s.indicators),
	)
	return s, nil
}

// Update runs one polling tick: while no loop is in progress the indicators are fed a fresh
// ticker snapshot, then the trader advances its loop.
func (s *Strategy) Update(ctx context.Context) error {
	if !s.trader.IsLoopInProgress() {
		tickers, err := s.tickers.GetTickers(ctx)
		if err != nil {
			return fmt.Errorf("strategy: get tickers: %w", err)
		}

		s.polls++
		if s.cfg.TickersToSkip > 0 && s.polls%s.cfg.TickersToSkip == 0 {
			if err := s.repo.LogTickers(ctx, time.Now(), tickers); err != nil {
				s.logger.Error("Failed to log tickers", "error", err)
			}
		}

		for _, ind := range s.indicators {
			ind.Update(ctx, tickers)
		}
	}

	err := s.trader.Update(ctx)
	pending := s.pending
	s.pending = nil
	return errors.Join(append(pending, err)...)
}

// Shutdown aborts an in-progress loop, cancelling its open order, and detaches all handlers.
func (s *Strategy) Shutdown(ctx context.Context) error {
	var err error
	if s.trader.IsLoopInProgress() {
		_, err = s.trader.Abort(ctx, "shutdown")
		if err != nil {
			s.logger.Error("Failed to abort arbitrage loop", "error", err)
		}
	}
	for _, fn := range s.unregister {
		fn()
	}
	s.unregister = nil
	return err
}

func (s *Strategy) handleSignal(ctx context.Context, opp model.Opportunity) {
	id, err := s.repo.SaveOpportunity(ctx, opp)
	if err != nil {
		s.logger.Error("Failed to save opportunity", "path", opp.Path, "error", err)
	}
	opp.ID = id

	if s.trader.IsLoopInProgress() {
		s.logger.Debug("Loop in progress, ignoring opportunity", "path", opp.Path)
		return
	}

	amount := decimal.NewFromFloat(s.cfg.TradingAmounts[opp.QuoteCurrency])

	if s.orderType == model.OrderTypeMarket {
		books, err := s.exchange.GetOrderBook(ctx, opp.Pairs(), s.cfg.OrderBookDepth)
		if err != nil {
			s.pending = append(s.pending, fmt.Errorf("strategy: get order books: %w", err))
			return
		}
		est, err := s.slippage.Estimate(opp.Legs, amount, books)
		if errors.Is(err, ErrInsufficientDepth) {
			s.logger.Warn("Not enough order book depth, ignoring opportunity", "path", opp.Path, "error", err)
			return
		}
		if err != nil {
			s.pending = append(s.pending, fmt.Errorf("strategy: estimate slippage: %w", err))
			return
		}
		s.logger.Info("Gain with slippage",
			"path", opp.Path,
			"gain", est.Gain,
			"pnl", est.PnL,
			"quote", opp.QuoteCurrency,
		)
		if est.PnL.LessThan(s.pnlMin) {
			s.logger.Info("PnL too small, ignoring opportunity", "path", opp.Path, "pnl", est.PnL, "min", s.pnlMin)
			return
		}
	}

	if err := s.trader.StartArbLoop(ctx, opp.Legs, opp.ID, amount); err != nil {
		s.pending = append(s.pending, fmt.Errorf("strategy: start loop %s: %w", opp.Path, err))
	}
}

func (s *Strategy) handleOrderUpdate(ctx context.Context, order model.Order) model.Order {
	stored, err := s.repo.SaveOrder(ctx, order)
	if err != nil {
		s.logger.Error("Failed to save order", "pair", order.Pair, "status", order.Status, "error", err)
		return order
	}
	return stored
}

func (s *Strategy) handleLoopResult(ctx context.Context, result model.LoopResult) {
	if err := s.repo.SaveLoopResult(ctx, result); err != nil {
		s.logger.Error("Failed to save loop result", "loopID", result.LoopID, "error", err)
	}
}
