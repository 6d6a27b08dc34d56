// Package feed keeps the price oracle current from an external websocket
// price stream. The client resubscribes after every reconnect and pings the
// server to keep intermediaries from closing an idle stream.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"optionpool/internal/oracle"
)

type Client struct {
	url            string
	symbol         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	feed           *oracle.Feed
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(url, symbol string, reconnectDelay, pingInterval time.Duration, feed *oracle.Feed, log *zap.Logger) *Client {
	return &Client{
		url:            url,
		symbol:         symbol,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		feed:           feed,
		log:            log,
	}
}

// tick is one price update from the upstream stream. The price is a decimal
// integer in the oracle's fixed-point scale.
type tick struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TimeMS int64  `json:"ts"`
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Run consumes ticks until ctx is cancelled, reconnecting with a delay after
// every dropped connection.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("feed connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	sub := map[string]any{"method": "subscribe", "symbol": c.symbol}
	return writeJSON(ctx, conn, sub)
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := c.handle(data); err != nil {
			c.log.Warn("feed tick dropped", zap.Error(err))
		}
	}
}

func (c *Client) handle(data []byte) error {
	var t tick
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	if t.Symbol != "" && t.Symbol != c.symbol {
		return nil
	}
	if t.Price == "" {
		// Control frames (subscription acks, pongs) carry no price.
		return nil
	}
	price, ok := new(big.Int).SetString(t.Price, 10)
	if !ok {
		return fmt.Errorf("bad price %q", t.Price)
	}
	at := time.Now().UTC()
	if t.TimeMS > 0 {
		at = time.UnixMilli(t.TimeMS).UTC()
	}
	return c.feed.SetPrice(price, at)
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil || err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		c.log.Info("feed read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("feed read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
