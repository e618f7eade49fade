// Package feed connects to the broker's streaming quote WebSocket,
// decodes binary frames into partial ticks and keeps subscriptions
// alive across reconnects.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketcore/internal/model"
)

const (
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second

	subscribeAction   = 1
	unsubscribeAction = 0
)

// Wire exchange type per segment, inverse of wireSegments.
func wireExchangeType(seg model.Segment) int {
	switch seg {
	case model.NSECM:
		return 1
	case model.NSEFO:
		return 2
	case model.BSECM:
		return 3
	case model.BSEFO:
		return 4
	}
	return 0
}

// TokenListEntry groups tokens by wire exchange type for subscribe requests.
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// ClientConfig holds connection parameters for the quote stream.
type ClientConfig struct {
	URL        string
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	MaxRetryAttempts int
	RetryDelay       time.Duration
	RetryMultiplier  int
}

// Client is the streaming WebSocket client. Subscriptions are recorded
// per mode and replayed after every reconnect.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[int]map[int][]string // mode -> exchangeType -> tokens
	disconnected  bool
	retryAttempt  int

	lastPong time.Time

	// Callbacks
	OnFrame     func(b []byte)
	OnOpen      func()
	OnClose     func()
	OnReconnect func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient validates credentials and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("feed: all connection tokens are required")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:           cfg,
		dialer:        websocket.DefaultDialer,
		subscriptions: make(map[int]map[int][]string),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Connect establishes the websocket connection and starts the read and
// heartbeat loops.
func (c *Client) Connect() error {
	header := http.Header{}
	header.Add("Authorization", c.cfg.AuthToken)
	header.Add("x-api-key", c.cfg.APIKey)
	header.Add("x-client-code", c.cfg.ClientCode)
	header.Add("x-feed-token", c.cfg.FeedToken)

	conn, resp, err := c.dialer.Dial(c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			log.Printf("[feed] dial failed, status: %s", resp.Status)
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.disconnected = false
	c.retryAttempt = 0
	c.mu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	if c.OnOpen != nil {
		c.OnOpen()
	}
	return nil
}

// Close terminates the connection and stops reconnect attempts.
func (c *Client) Close() {
	c.mu.Lock()
	c.disconnected = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	c.cancel()
}

// Subscribe sends a subscription request and records it for replay on
// reconnect.
func (c *Client) Subscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	req := map[string]any{
		"correlationID": correlationID,
		"action":        subscribeAction,
		"params": map[string]any{
			"mode":      mode,
			"tokenList": tokenList,
		},
	}

	c.mu.Lock()
	if c.subscriptions[mode] == nil {
		c.subscriptions[mode] = make(map[int][]string)
	}
	for _, tl := range tokenList {
		c.subscriptions[mode][tl.ExchangeType] = append(c.subscriptions[mode][tl.ExchangeType], tl.Tokens...)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("feed: not connected")
	}
	return conn.WriteJSON(req)
}

// Unsubscribe removes tokens from the registry and tells the server.
func (c *Client) Unsubscribe(correlationID string, mode int, tokenList []TokenListEntry) error {
	req := map[string]any{
		"correlationID": correlationID,
		"action":        unsubscribeAction,
		"params": map[string]any{
			"mode":      mode,
			"tokenList": tokenList,
		},
	}

	c.mu.Lock()
	if m := c.subscriptions[mode]; m != nil {
		for _, tl := range tokenList {
			if tokens, ok := m[tl.ExchangeType]; ok {
				kept := removeTokens(tokens, tl.Tokens)
				if len(kept) == 0 {
					delete(m, tl.ExchangeType)
				} else {
					m[tl.ExchangeType] = kept
				}
			}
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("feed: not connected")
	}
	return conn.WriteJSON(req)
}

func removeTokens(src, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := src[:0]
	for _, v := range src {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// resubscribe replays every recorded subscription on a fresh connection.
func (c *Client) resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("feed: not connected")
	}
	for mode, byEx := range c.subscriptions {
		var tokenList []TokenListEntry
		for ex, toks := range byEx {
			tokenList = append(tokenList, TokenListEntry{ExchangeType: ex, Tokens: toks})
		}
		req := map[string]any{
			"action": subscribeAction,
			"params": map[string]any{
				"mode":      mode,
				"tokenList": tokenList,
			},
		}
		if err := c.conn.WriteJSON(req); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		if c.OnClose != nil {
			c.OnClose()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		mt, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopped := c.disconnected
			c.mu.Unlock()
			if !stopped {
				log.Printf("[feed] read error: %v", err)
				c.reconnect()
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			if c.OnFrame != nil {
				c.OnFrame(message)
			}
		case websocket.TextMessage:
			if string(message) == "pong" {
				c.mu.Lock()
				c.lastPong = time.Now()
				c.mu.Unlock()
				continue
			}
			// Control messages arrive as JSON text; log and move on.
			var obj map[string]any
			if err := json.Unmarshal(message, &obj); err == nil {
				log.Printf("[feed] control message: %v", obj)
			}
		}
	}
}

// reconnect retries with exponential backoff, then replays the
// subscription registry.
func (c *Client) reconnect() {
	delay := c.cfg.RetryDelay
	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= time.Duration(c.cfg.RetryMultiplier)

		log.Printf("[feed] reconnect attempt %d/%d", attempt, c.cfg.MaxRetryAttempts)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		if err := c.Connect(); err != nil {
			log.Printf("[feed] reconnect failed: %v", err)
			continue
		}
		if err := c.resubscribe(); err != nil {
			log.Printf("[feed] resubscribe failed: %v", err)
		}
		return
	}
	log.Printf("[feed] giving up after %d reconnect attempts", c.cfg.MaxRetryAttempts)
}

func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte(heartbeatMessage)); err != nil {
				// The read loop sees the same failure and drives
				// the reconnect.
				return
			}
		}
	}
}

// GroupTokens builds subscribe entries from (segment, token) pairs.
func GroupTokens(pairs map[model.Segment][]int64) []TokenListEntry {
	var out []TokenListEntry
	for seg, tokens := range pairs {
		ex := wireExchangeType(seg)
		if ex == 0 || len(tokens) == 0 {
			continue
		}
		entry := TokenListEntry{ExchangeType: ex}
		for _, t := range tokens {
			entry.Tokens = append(entry.Tokens, fmt.Sprintf("%d", t))
		}
		out = append(out, entry)
	}
	return out
}
