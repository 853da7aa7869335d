package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"triarb/internal/config"
	"triarb/internal/model"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// returned by order_trades for orders without trades
	errCodeOrderNotFound = "50304"
)

// ErrAPI is wrapped by every error reported in an EXMO response body.
var ErrAPI = errors.New("exmo api error")

// APIError is an error message returned by the EXMO API.
type APIError struct {
	Method  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exmo: %s: %s", e.Method, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}

// ExmoClient implements the Client interface for EXMO over its signed REST API.
type ExmoClient struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
	key     string
	secret  []byte
	limiter *rate.Limiter
	fees    model.Fees

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewExmoClient creates a new ExmoClient from the exchange settings.
func NewExmoClient(logger *slog.Logger, cfg *config.ExchangeConfig) *ExmoClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &ExmoClient{
		logger:  logger,
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		key:     cfg.APIKey,
		secret:  []byte(cfg.APISecret),
		limiter: rate.NewLimiter(limit, 1),
		fees: model.Fees{
			Maker: decimal.NewFromFloat(cfg.MakerFee),
			Taker: decimal.NewFromFloat(cfg.TakerFee),
		},
	}
}

func (c *ExmoClient) GetName() string {
	return "exmo"
}

type exmoTicker struct {
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Avg       decimal.Decimal `json:"avg"`
	Vol       decimal.Decimal `json:"vol"`
	VolCurr   decimal.Decimal `json:"vol_curr"`
	LastTrade decimal.Decimal `json:"last_trade"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Updated   json.Number     `json:"updated"`
}

func (t exmoTicker) toModel() model.Ticker {
	return model.Ticker{
		High:      t.High,
		Low:       t.Low,
		Avg:       t.Avg,
		Vol:       t.Vol,
		VolCurr:   t.VolCurr,
		LastTrade: t.LastTrade,
		BuyPrice:  t.BuyPrice,
		SellPrice: t.SellPrice,
		Updated:   unixTime(t.Updated),
	}
}

// GetTickers returns the tickers of every tradable pair.
func (c *ExmoClient) GetTickers(ctx context.Context) (map[string]model.Ticker, error) {
	var raw map[string]exmoTicker
	if err := c.call(ctx, "ticker", nil, true, &raw); err != nil {
		return nil, err
	}
	tickers := make(map[string]model.Ticker, len(raw))
	for pair, t := range raw {
		tickers[pair] = t.toModel()
	}
	c.logger.Debug("ExmoClient: tickers received", "pairs", len(tickers))
	return tickers, nil
}

type exmoBook struct {
	Ask [][3]decimal.Decimal `json:"ask"`
	Bid [][3]decimal.Decimal `json:"bid"`
}

func bookLevels(rows [][3]decimal.Decimal) []model.BookLevel {
	levels := make([]model.BookLevel, len(rows))
	for i, r := range rows {
		levels[i] = model.BookLevel{Price: r[0], Quantity: r[1], Amount: r[2]}
	}
	return levels
}

// GetOrderBook returns up to depth levels per side for each pair.
func (c *ExmoClient) GetOrderBook(ctx context.Context, pairs []string, depth int) (map[string]model.OrderBook, error) {
	params := url.Values{}
	params.Set("pair", strings.Join(pairs, ","))
	params.Set("limit", strconv.Itoa(depth))

	var raw map[string]exmoBook
	if err := c.call(ctx, "order_book", params, true, &raw); err != nil {
		return nil, err
	}
	books := make(map[string]model.OrderBook, len(raw))
	for pair, b := range raw {
		books[pair] = model.OrderBook{Ask: bookLevels(b.Ask), Bid: bookLevels(b.Bid)}
	}
	return books, nil
}

// GetFees returns the configured fee schedule; EXMO charges a flat rate per deal.
func (c *ExmoClient) GetFees(ctx context.Context) (model.Fees, error) {
	return c.fees, nil
}

func (c *ExmoClient) GetCurrencies(ctx context.Context) ([]string, error) {
	var currencies []string
	if err := c.call(ctx, "currency", nil, true, &currencies); err != nil {
		return nil, err
	}
	c.logger.Debug("ExmoClient: currencies received", "count", len(currencies))
	return currencies, nil
}

func (c *ExmoClient) PlaceLimitBuy(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error) {
	return c.placeOrder(ctx, pair, quantity, price, "buy")
}

func (c *ExmoClient) PlaceLimitSell(ctx context.Context, pair string, quantity, price decimal.Decimal) (int64, error) {
	return c.placeOrder(ctx, pair, quantity, price, "sell")
}

func (c *ExmoClient) PlaceMarketBuyTotal(ctx context.Context, pair string, amount decimal.Decimal) (int64, error) {
	return c.placeOrder(ctx, pair, amount, decimal.Zero, "market_buy_total")
}

func (c *ExmoClient) PlaceMarketSell(ctx context.Context, pair string, quantity decimal.Decimal) (int64, error) {
	return c.placeOrder(ctx, pair, quantity, decimal.Zero, "market_sell")
}

func (c *ExmoClient) placeOrder(ctx context.Context, pair string, quantity, price decimal.Decimal, orderType string) (int64, error) {
	params := url.Values{}
	params.Set("pair", pair)
	params.Set("quantity", quantity.String())
	params.Set("price", price.String())
	params.Set("type", orderType)

	c.logger.Info("ExmoClient: placing order", "pair", pair, "type", orderType, "quantity", quantity, "price", price)

	var resp struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := c.call(ctx, "order_create", params, false, &resp); err != nil {
		return 0, err
	}
	id, err := resp.OrderID.Int64()
	if err != nil {
		return 0, fmt.Errorf("exmo: order_create: bad order id %q: %w", resp.OrderID, err)
	}
	return id, nil
}

func (c *ExmoClient) CancelOrder(ctx context.Context, orderID int64) error {
	params := url.Values{}
	params.Set("order_id", strconv.FormatInt(orderID, 10))
	c.logger.Info("ExmoClient: canceling order", "orderID", orderID)
	return c.call(ctx, "order_cancel", params, false, nil)
}

type exmoOpenOrder struct {
	OrderID  json.Number     `json:"order_id"`
	Created  json.Number     `json:"created"`
	Type     string          `json:"type"`
	Pair     string          `json:"pair"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

func (c *ExmoClient) GetUserOpenOrders(ctx context.Context) (map[string][]model.OpenOrder, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "user_open_orders", nil, false, &raw); err != nil {
		return nil, err
	}
	orders := make(map[string][]model.OpenOrder)
	// no open orders comes back as an empty array
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return orders, nil
	}

	var byPair map[string][]exmoOpenOrder
	if err := json.Unmarshal(raw, &byPair); err != nil {
		return nil, fmt.Errorf("exmo: user_open_orders: decode response: %w", err)
	}
	for pair, list := range byPair {
		for _, o := range list {
			id, err := o.OrderID.Int64()
			if err != nil {
				return nil, fmt.Errorf("exmo: user_open_orders: bad order id %q: %w", o.OrderID, err)
			}
			orders[pair] = append(orders[pair], model.OpenOrder{
				OrderID:  id,
				Created:  unixTime(o.Created),
				Type:     o.Type,
				Pair:     o.Pair,
				Price:    o.Price,
				Quantity: o.Quantity,
				Amount:   o.Amount,
			})
		}
	}
	return orders, nil
}

type exmoOrderTrades struct {
	Type        string          `json:"type"`
	InCurrency  string          `json:"in_currency"`
	InAmount    decimal.Decimal `json:"in_amount"`
	OutCurrency string          `json:"out_currency"`
	OutAmount   decimal.Decimal `json:"out_amount"`
	Trades      []struct {
		TradeID  json.Number     `json:"trade_id"`
		Date     json.Number     `json:"date"`
		Type     string          `json:"type"`
		Pair     string          `json:"pair"`
		OrderID  json.Number     `json:"order_id"`
		Quantity decimal.Decimal `json:"quantity"`
		Price    decimal.Decimal `json:"price"`
		Amount   decimal.Decimal `json:"amount"`
	} `json:"trades"`
}

func (c *ExmoClient) GetOrderTrades(ctx context.Context, orderID int64) (*model.OrderTrades, error) {
	params := url.Values{}
	params.Set("order_id", strconv.FormatInt(orderID, 10))

	var raw exmoOrderTrades
	err := c.call(ctx, "order_trades", params, false, &raw)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Message, errCodeOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	trades := &model.OrderTrades{
		Type:        raw.Type,
		InCurrency:  raw.InCurrency,
		InAmount:    raw.InAmount,
		OutCurrency: raw.OutCurrency,
		OutAmount:   raw.OutAmount,
	}
	for _, t := range raw.Trades {
		tradeID, _ := t.TradeID.Int64()
		oid, _ := t.OrderID.Int64()
		trades.Trades = append(trades.Trades, model.Trade{
			TradeID:  tradeID,
			Date:     unixTime(t.Date),
			Type:     t.Type,
			Pair:     t.Pair,
			OrderID:  oid,
			Quantity: t.Quantity,
			Price:    t.Price,
			Amount:   t.Amount,
		})
	}
	return trades, nil
}

// call posts a signed request to method and decodes the response into out. Only idempotent
// calls may set retry; order placement must never be sent twice.
func (c *ExmoClient) call(ctx context.Context, method string, params url.Values, retry bool, out any) error {
	attempts := 1
	if retry {
		attempts += maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("ExmoClient: retrying request", "method", method, "attempt", attempt+1, "error", lastErr)
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("exmo: %s: rate limiter: %w", method, err)
		}

		body, status, err := c.post(ctx, method, params)
		if err != nil {
			lastErr = fmt.Errorf("exmo: %s: %w", method, err)
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("exmo: %s: server error %d", method, status)
			continue
		}
		if status >= 400 {
			return fmt.Errorf("exmo: %s: client error %d: %s", method, status, string(body))
		}
		return decodeResponse(method, body, out)
	}
	return lastErr
}

func (c *ExmoClient) post(ctx context.Context, method string, params url.Values) ([]byte, int, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("nonce", strconv.FormatInt(c.nonce(), 10))
	payload := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Key", c.key)
	req.Header.Set("Sign", c.sign(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodeResponse(method string, body []byte, out any) error {
	var status struct {
		Result *bool  `json:"result"`
		Error  string `json:"error"`
	}
	// arrays and other shapes carry no status
	if json.Unmarshal(body, &status) == nil {
		if status.Error != "" {
			return &APIError{Method: method, Message: status.Error}
		}
		if status.Result != nil && !*status.Result {
			return &APIError{Method: method, Message: "request rejected"}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("exmo: %s: decode response: %w", method, err)
	}
	return nil
}

// sign returns hex(HMAC-SHA512(secret, payload)).
func (c *ExmoClient) sign(payload string) string {
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// nonce returns a strictly increasing millisecond timestamp.
func (c *ExmoClient) nonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := time.Now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

func (c *ExmoClient) sleep(ctx context.Context, attempt int) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unixTime(n json.Number) time.Time {
	sec, err := n.Int64()
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
