package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"triarb/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ticker (
	pair       TEXT     NOT NULL,
	created    DATETIME NOT NULL,
	high       TEXT     NOT NULL,
	low        TEXT     NOT NULL,
	avg        TEXT     NOT NULL,
	vol        TEXT     NOT NULL,
	vol_curr   TEXT     NOT NULL,
	last_trade TEXT     NOT NULL,
	buy_price  TEXT     NOT NULL,
	sell_price TEXT     NOT NULL,
	updated    DATETIME NOT NULL,
	PRIMARY KEY (pair, created)
);

CREATE TABLE IF NOT EXISTS triarb_opportunity (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	quote_currency TEXT     NOT NULL,
	path           TEXT     NOT NULL,
	pair1          TEXT     NOT NULL,
	side1          TEXT     NOT NULL,
	calc_rate1     TEXT     NOT NULL,
	order_rate1    TEXT     NOT NULL,
	pair2          TEXT     NOT NULL,
	side2          TEXT     NOT NULL,
	calc_rate2     TEXT     NOT NULL,
	order_rate2    TEXT     NOT NULL,
	pair3          TEXT     NOT NULL,
	side3          TEXT     NOT NULL,
	calc_rate3     TEXT     NOT NULL,
	order_rate3    TEXT     NOT NULL,
	gain           TEXT     NOT NULL,
	order_type     TEXT     NOT NULL,
	created        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS triarb_order (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	exch_order_id         INTEGER  NOT NULL,
	triarb_opportunity_id INTEGER  NOT NULL,
	created               DATETIME NOT NULL,
	pair                  TEXT     NOT NULL,
	quantity              TEXT     NOT NULL,
	price                 TEXT     NOT NULL,
	side                  TEXT     NOT NULL,
	type                  TEXT     NOT NULL,
	status                TEXT     NOT NULL,
	error                 TEXT     NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS triarb_loop (
	loop_id        TEXT PRIMARY KEY,
	opportunity_id INTEGER  NOT NULL,
	path           TEXT     NOT NULL,
	status         TEXT     NOT NULL,
	legs_completed INTEGER  NOT NULL,
	currency       TEXT     NOT NULL,
	initial_amount TEXT     NOT NULL,
	final_amount   TEXT     NOT NULL,
	pnl            TEXT     NOT NULL,
	started        DATETIME NOT NULL,
	finished       DATETIME NOT NULL,
	error          TEXT     NOT NULL DEFAULT ''
);`

// SQLiteRepository implements Repository on a local SQLite file (pure Go driver).
// Decimals are stored as TEXT to keep them exact.
type SQLiteRepository struct {
	DB *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path; ":memory:" is accepted.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir for %q: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLiteRepository{DB: db}, nil
}

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LogTickers(ctx context.Context, created time.Time, tickers map[string]model.Ticker) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: log tickers: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticker (pair, created, high, low, avg, vol, vol_curr, last_trade, buy_price, sell_price, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: log tickers: %w", err)
	}
	defer stmt.Close()

	for pair, t := range tickers {
		_, err := stmt.ExecContext(ctx, pair, created.UTC(),
			t.High.String(), t.Low.String(), t.Avg.String(), t.Vol.String(), t.VolCurr.String(),
			t.LastTrade.String(), t.BuyPrice.String(), t.SellPrice.String(), t.Updated.UTC(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: log ticker %s: %w", pair, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) SaveOpportunity(ctx context.Context, opp model.Opportunity) (int64, error) {
	l1, l2, l3 := opp.Legs[0], opp.Legs[1], opp.Legs[2]
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO triarb_opportunity (
			quote_currency, path,
			pair1, side1, calc_rate1, order_rate1,
			pair2, side2, calc_rate2, order_rate2,
			pair3, side3, calc_rate3, order_rate3,
			gain, order_type, created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opp.QuoteCurrency, opp.Path,
		l1.Pair, string(l1.Side), l1.CalcRate.String(), l1.OrderRate.String(),
		l2.Pair, string(l2.Side), l2.CalcRate.String(), l2.OrderRate.String(),
		l3.Pair, string(l3.Side), l3.CalcRate.String(), l3.OrderRate.String(),
		opp.Gain.String(), string(opp.OrderType), opp.Created.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: save opportunity %s: %w", opp.Path, err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) SaveOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if order.ID == 0 {
		res, err := r.DB.ExecContext(ctx, `
			INSERT INTO triarb_order (exch_order_id, triarb_opportunity_id, created, pair, quantity, price, side, type, status, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ExchOrderID, order.OpportunityID, order.Created.UTC(), order.Pair,
			order.Quantity.String(), order.Price.String(),
			string(order.Side), string(order.Type), string(order.Status), order.Error,
		)
		if err != nil {
			return order, fmt.Errorf("sqlite: insert order %s: %w", order.Pair, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return order, fmt.Errorf("sqlite: insert order %s: %w", order.Pair, err)
		}
		order.ID = id
		return order, nil
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE triarb_order SET exch_order_id = ?, status = ?, error = ? WHERE id = ?`,
		order.ExchOrderID, string(order.Status), order.Error, order.ID,
	)
	if err != nil {
		return order, fmt.Errorf("sqlite: update order %d: %w", order.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return order, fmt.Errorf("sqlite: update order %d: %w", order.ID, sql.ErrNoRows)
	}
	return order, nil
}

func (r *SQLiteRepository) SaveLoopResult(ctx context.Context, result model.LoopResult) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO triarb_loop (
			loop_id, opportunity_id, path, status, legs_completed, currency,
			initial_amount, final_amount, pnl, started, finished, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.LoopID, result.OpportunityID, result.Path, string(result.Status), result.LegsCompleted,
		result.Currency, result.InitialAmount.String(), result.FinalAmount.String(), result.PnL.String(),
		result.Started.UTC(), result.Finished.UTC(), result.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save loop %s: %w", result.LoopID, err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.DB.Close()
}
