package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"triarb/internal/config"
	"triarb/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ticker (
	pair       VARCHAR(20)    NOT NULL,
	created    TIMESTAMPTZ    NOT NULL,
	high       NUMERIC(30, 12) NOT NULL,
	low        NUMERIC(30, 12) NOT NULL,
	avg        NUMERIC(30, 12) NOT NULL,
	vol        NUMERIC(30, 12) NOT NULL,
	vol_curr   NUMERIC(30, 12) NOT NULL,
	last_trade NUMERIC(30, 12) NOT NULL,
	buy_price  NUMERIC(30, 12) NOT NULL,
	sell_price NUMERIC(30, 12) NOT NULL,
	updated    TIMESTAMPTZ    NOT NULL,
	PRIMARY KEY (pair, created)
);

CREATE TABLE IF NOT EXISTS triarb_opportunity (
	id             BIGSERIAL PRIMARY KEY,
	quote_currency VARCHAR(10) NOT NULL,
	path           TEXT        NOT NULL,
	pair1          VARCHAR(20) NOT NULL,
	side1          VARCHAR(4)  NOT NULL,
	calc_rate1     NUMERIC     NOT NULL,
	order_rate1    NUMERIC     NOT NULL,
	pair2          VARCHAR(20) NOT NULL,
	side2          VARCHAR(4)  NOT NULL,
	calc_rate2     NUMERIC     NOT NULL,
	order_rate2    NUMERIC     NOT NULL,
	pair3          VARCHAR(20) NOT NULL,
	side3          VARCHAR(4)  NOT NULL,
	calc_rate3     NUMERIC     NOT NULL,
	order_rate3    NUMERIC     NOT NULL,
	gain           NUMERIC     NOT NULL,
	order_type     VARCHAR(10) NOT NULL,
	created        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS triarb_order (
	id                    BIGSERIAL PRIMARY KEY,
	exch_order_id         BIGINT      NOT NULL,
	triarb_opportunity_id BIGINT      NOT NULL,
	created               TIMESTAMPTZ NOT NULL,
	pair                  VARCHAR(20) NOT NULL,
	quantity              NUMERIC     NOT NULL,
	price                 NUMERIC     NOT NULL,
	side                  VARCHAR(4)  NOT NULL,
	type                  VARCHAR(10) NOT NULL,
	status                VARCHAR(10) NOT NULL,
	error                 TEXT        NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS triarb_loop (
	loop_id        UUID PRIMARY KEY,
	opportunity_id BIGINT      NOT NULL,
	path           TEXT        NOT NULL,
	status         VARCHAR(10) NOT NULL,
	legs_completed INT         NOT NULL,
	currency       VARCHAR(10) NOT NULL,
	initial_amount NUMERIC     NOT NULL,
	final_amount   NUMERIC     NOT NULL,
	pnl            NUMERIC     NOT NULL,
	started        TIMESTAMPTZ NOT NULL,
	finished       TIMESTAMPTZ NOT NULL,
	error          TEXT        NOT NULL DEFAULT ''
);`

// PostgresRepository implements Repository on PostgreSQL through a pgx pool.
// Decimals are passed as strings and stored as NUMERIC.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// PostgresDSN builds a connection string from cfg.
func PostgresDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewPostgresRepository connects a pool to dsn.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogTickers(ctx context.Context, created time.Time, tickers map[string]model.Ticker) error {
	const query = `
		INSERT INTO ticker (pair, created, high, low, avg, vol, vol_curr, last_trade, buy_price, sell_price, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	batch := &pgx.Batch{}
	for pair, t := range tickers {
		batch.Queue(query, pair, created,
			t.High.String(), t.Low.String(), t.Avg.String(), t.Vol.String(), t.VolCurr.String(),
			t.LastTrade.String(), t.BuyPrice.String(), t.SellPrice.String(), t.Updated,
		)
	}
	if err := r.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: log tickers: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveOpportunity(ctx context.Context, opp model.Opportunity) (int64, error) {
	const query = `
		INSERT INTO triarb_opportunity (
			quote_currency, path,
			pair1, side1, calc_rate1, order_rate1,
			pair2, side2, calc_rate2, order_rate2,
			pair3, side3, calc_rate3, order_rate3,
			gain, order_type, created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	l1, l2, l3 := opp.Legs[0], opp.Legs[1], opp.Legs[2]
	var id int64
	err := r.Pool.QueryRow(ctx, query,
		opp.QuoteCurrency, opp.Path,
		l1.Pair, string(l1.Side), l1.CalcRate.String(), l1.OrderRate.String(),
		l2.Pair, string(l2.Side), l2.CalcRate.String(), l2.OrderRate.String(),
		l3.Pair, string(l3.Side), l3.CalcRate.String(), l3.OrderRate.String(),
		opp.Gain.String(), string(opp.OrderType), opp.Created,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save opportunity %s: %w", opp.Path, err)
	}
	return id, nil
}

func (r *PostgresRepository) SaveOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if order.ID == 0 {
		const insert = `
			INSERT INTO triarb_order (exch_order_id, triarb_opportunity_id, created, pair, quantity, price, side, type, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`
		err := r.Pool.QueryRow(ctx, insert,
			order.ExchOrderID, order.OpportunityID, order.Created, order.Pair,
			order.Quantity.String(), order.Price.String(),
			string(order.Side), string(order.Type), string(order.Status), order.Error,
		).Scan(&order.ID)
		if err != nil {
			return order, fmt.Errorf("postgres: insert order %s: %w", order.Pair, err)
		}
		return order, nil
	}

	const update = `UPDATE triarb_order SET exch_order_id = $1, status = $2, error = $3 WHERE id = $4`
	tag, err := r.Pool.Exec(ctx, update, order.ExchOrderID, string(order.Status), order.Error, order.ID)
	if err != nil {
		return order, fmt.Errorf("postgres: update order %d: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order, fmt.Errorf("postgres: update order %d: %w", order.ID, pgx.ErrNoRows)
	}
	return order, nil
}

func (r *PostgresRepository) SaveLoopResult(ctx context.Context, result model.LoopResult) error {
	const query = `
		INSERT INTO triarb_loop (
			loop_id, opportunity_id, path, status, legs_completed, currency,
			initial_amount, final_amount, pnl, started, finished, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.Pool.Exec(ctx, query,
		result.LoopID, result.OpportunityID, result.Path, string(result.Status), result.LegsCompleted,
		result.Currency, result.InitialAmount.String(), result.FinalAmount.String(), result.PnL.String(),
		result.Started, result.Finished, result.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: save loop %s: %w", result.LoopID, err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.Pool.Close()
	return nil
}
