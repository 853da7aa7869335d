package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"triarb/internal/model"
)

const (
	tickerTopicPrefix = "spot/ticker:"
	minBackoff        = time.Second
	maxBackoff        = 16 * time.Second
)

// ErrStreamNotReady is returned by GetTickers before the first ticker arrives.
var ErrStreamNotReady = errors.New("ticker stream has no data yet")

// TickerStream keeps a live ticker snapshot from the EXMO public websocket. It provides the
// same GetTickers contract as the REST client.
type TickerStream struct {
	logger *slog.Logger
	url    string
	pairs  []string
	dialer *websocket.Dialer

	mu      sync.RWMutex
	tickers map[string]model.Ticker
}

// NewTickerStream creates a stream subscribing to the tickers of pairs.
func NewTickerStream(logger *slog.Logger, url string, pairs []string) *TickerStream {
	return &TickerStream{
		logger:  logger,
		url:     url,
		pairs:   pairs,
		dialer:  websocket.DefaultDialer,
		tickers: make(map[string]model.Ticker, len(pairs)),
	}
}

// GetTickers returns a copy of the latest snapshot.
func (s *TickerStream) GetTickers(ctx context.Context) (map[string]model.Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.tickers) == 0 {
		return nil, ErrStreamNotReady
	}
	out := make(map[string]model.Ticker, len(s.tickers))
	for pair, t := range s.tickers {
		out[pair] = t
	}
	return out, nil
}

// Run connects and keeps the subscription alive, reconnecting with exponential backoff,
// until ctx is done.
func (s *TickerStream) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		s.logger.Info("TickerStream: connecting to WebSocket", "url", s.url, "pairs", len(s.pairs))
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("TickerStream: context cancelled, shutting down")
			return nil
		}
		if connected {
			backoff = minBackoff
		}
		s.logger.Error("TickerStream: connection lost", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

type subscribeRequest struct {
	ID     int      `json:"id"`
	Method string   `json:"method"`
	Topics []string `json:"topics"`
}

type streamMessage struct {
	Event   string          `json:"event"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

// session runs one connection until it fails. connected reports whether the dial succeeded.
func (s *TickerStream) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	topics := make([]string, len(s.pairs))
	for i, pair := range s.pairs {
		topics[i] = tickerTopicPrefix + pair
	}
	if err := conn.WriteJSON(subscribeRequest{ID: 1, Method: "subscribe", Topics: topics}); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("TickerStream: subscription sent", "topics", len(topics))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		s.handle(message)
	}
}

func (s *TickerStream) handle(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Warn("TickerStream: failed to parse message", "error", err)
		return
	}

	switch msg.Event {
	case "update", "snapshot":
		pair, ok := strings.CutPrefix(msg.Topic, tickerTopicPrefix)
		if !ok {
			return
		}
		var t exmoTicker
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			s.logger.Warn("TickerStream: failed to parse ticker", "pair", pair, "error", err)
			return
		}
		s.mu.Lock()
		s.tickers[pair] = t.toModel()
		s.mu.Unlock()
	case "error":
		s.logger.Warn("TickerStream: server error", "code", msg.Code, "message", msg.Message)
	default:
		s.logger.Debug("TickerStream: event", "event", msg.Event, "topic", msg.Topic)
	}
}
