package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"triarb/internal/arbitrage"
	"triarb/internal/config"
	"triarb/internal/database"
	"triarb/internal/exchange"
	"triarb/internal/runner"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("triarb stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("triarb stopped")
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	client, err := exchange.NewClient(cfg.Exchange.Name, logger, &cfg.Exchange)
	if err != nil {
		return err
	}

	repo, err := database.NewRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	logger.Info("Starting triarb",
		"exchange", client.GetName(),
		"order_type", cfg.Arbitrage.OrderType,
		"paper_trading", cfg.Arbitrage.PaperTrading,
		"quote_currencies", cfg.Arbitrage.QuoteCurrencies,
		"database", cfg.Database.Driver,
	)

	g, ctx := errgroup.WithContext(ctx)

	var opts []arbitrage.StrategyOption
	if cfg.Exchange.TickerSource == "websocket" {
		stream, err := newTickerStream(ctx, logger, client, cfg.Exchange.WSURL)
		if err != nil {
			return err
		}
		g.Go(func() error { return stream.Run(ctx) })
		opts = append(opts, arbitrage.WithTickerSource(stream))
	}

	strategy, err := arbitrage.NewStrategy(ctx, logger, client, repo, cfg.Arbitrage, opts...)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}

	r := runner.New(logger, strategy, cfg.Arbitrage.PollingInterval)
	g.Go(func() error { return r.Run(ctx) })

	return g.Wait()
}

// newTickerStream subscribes to every pair the exchange currently lists.
func newTickerStream(ctx context.Context, logger *slog.Logger, client exchange.Client, url string) (*exchange.TickerStream, error) {
	tickers, err := client.GetTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pairs for ticker stream: %w", err)
	}
	pairs := make([]string, 0, len(tickers))
	for pair := range tickers {
		pairs = append(pairs, pair)
	}
	slices.Sort(pairs)
	return exchange.NewTickerStream(logger, url, pairs), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
