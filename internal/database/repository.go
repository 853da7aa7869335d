package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triarb/internal/config"
	"triarb/internal/model"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogTickers(ctx context.Context, created time.Time, tickers map[string]model.Ticker) error
	// SaveOpportunity stores opp and returns its id.
	SaveOpportunity(ctx context.Context, opp model.Opportunity) (int64, error)
	// SaveOrder inserts an order without an id and returns it with the assigned id;
	// orders with an id get their exchange id, status and error updated.
	SaveOrder(ctx context.Context, order model.Order) (model.Order, error)
	SaveLoopResult(ctx context.Context, result model.LoopResult) error
	Close() error
}

// NewRepository opens the repository selected by cfg.Driver and applies the schema.
func NewRepository(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch cfg.Driver {
	case "postgres":
		repo, err = NewPostgresRepository(ctx, PostgresDSN(cfg))
	case "sqlite":
		repo, err = NewSQLiteRepository(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
