// Package ws streams public trades and klines from the Bybit v5
// WebSocket and pushes normalized events into channels.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"oibot/internal/model"
	"oibot/internal/ringbuf"
)

// DefaultURL is the Bybit v5 public linear-perpetual stream.
const DefaultURL = "wss://stream.bybit.com/v5/public/linear"

// Config holds connection and subscription settings.
type Config struct {
	URL       string
	Symbols   []string
	Timeframe string // kline interval, e.g. "5m"

	PingInterval time.Duration // default 20s
	ReadTimeout  time.Duration // default 60s
	ReconnectMin time.Duration // default 1s
	ReconnectMax time.Duration // default 30s
}

// Client maintains the WebSocket connection, resubscribing after every
// reconnect. Trade ticks land in a lock-free spool drained by a separate
// goroutine, so the read loop never waits on a slow consumer; a full
// spool drops. Klines are rare and go straight to their channel.
type Client struct {
	cfg   Config
	spool *ringbuf.Ring[model.Tick]

	// Optional hooks.
	OnReconnect func()
	OnConnected func(connected bool)
}

// New creates a Client. Returns an error for an unknown timeframe.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if _, err := bybitInterval(cfg.Timeframe); err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg,
		spool: ringbuf.New[model.Tick](4096),
	}, nil
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (c *Client) Run(ctx context.Context, tickCh chan<- model.Tick, klineCh chan<- model.Kline) error {
	go c.drainSpool(ctx, tickCh)

	backoff := c.cfg.ReconnectMin
	for {
		if err := c.stream(ctx, klineCh); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[ws] stream error: %v, reconnecting in %v", err, backoff)
			if c.OnReconnect != nil {
				c.OnReconnect()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

// drainSpool forwards spooled ticks to the consumer channel. The spool is
// SPSC: the read loop is the only producer, this goroutine the only
// consumer.
func (c *Client) drainSpool(ctx context.Context, tickCh chan<- model.Tick) {
	for {
		tk, ok := c.spool.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		select {
		case tickCh <- tk:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) stream(ctx context.Context, klineCh chan<- model.Kline) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	log.Printf("[ws] connected to %s, %d symbols", c.cfg.URL, len(c.cfg.Symbols))
	if c.OnConnected != nil {
		c.OnConnected(true)
		defer c.OnConnected(false)
	}

	// Bybit disconnects idle clients; it expects an op-level ping.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				msg := []byte(`{"op":"ping"}`)
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(data, klineCh)
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	interval, _ := bybitInterval(c.cfg.Timeframe)
	args := make([]string, 0, 2*len(c.cfg.Symbols))
	for _, sym := range c.cfg.Symbols {
		args = append(args, "publicTrade."+sym, "kline."+interval+"."+sym)
	}
	sub := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (c *Client) handleMessage(data []byte, klineCh chan<- model.Kline) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[ws] unparseable message: %v", err)
		return
	}
	switch {
	case len(env.Topic) > 12 && env.Topic[:12] == "publicTrade.":
		ticks, err := parseTrades(env.Data)
		if err != nil {
			log.Printf("[ws] trade parse error: %v", err)
			return
		}
		for _, tk := range ticks {
			if !c.spool.Push(tk) {
				log.Printf("[ws] tick spool full, dropped (total %d)", c.spool.Overflow())
			}
		}
	case len(env.Topic) > 6 && env.Topic[:6] == "kline.":
		// Kline payloads do not repeat the symbol; it rides in the topic
		// as "kline.<interval>.<symbol>".
		symbol := env.Topic[strings.LastIndexByte(env.Topic, '.')+1:]
		klines, err := parseKlines(env.Data, c.cfg.Timeframe)
		if err != nil {
			log.Printf("[ws] kline parse error: %v", err)
			return
		}
		for _, k := range klines {
			k.Symbol = symbol
			select {
			case klineCh <- k:
			default:
				log.Println("[ws] kline channel full, dropping kline")
			}
		}
	}
}

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type wsTrade struct {
	TradeTime int64  `json:"T"` // ms
	Symbol    string `json:"s"`
	Side      string `json:"S"` // exact match keeps "S" away from the "s" field
	Price     string `json:"p"`
	Volume    string `json:"v"`
}

type wsKline struct {
	End     int64  `json:"end"` // ms, bar close boundary
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

func parseTrades(data []byte) ([]model.Tick, error) {
	var raw []wsTrade
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Tick, 0, len(raw))
	for _, tr := range raw {
		price, err := strconv.ParseFloat(tr.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("trade price %q: %w", tr.Price, err)
		}
		qty, err := strconv.ParseFloat(tr.Volume, 64)
		if err != nil {
			return nil, fmt.Errorf("trade volume %q: %w", tr.Volume, err)
		}
		out = append(out, model.Tick{
			Symbol: tr.Symbol,
			Price:  price,
			Qty:    qty,
			TickTS: time.UnixMilli(tr.TradeTime).UTC(),
		})
	}
	return out, nil
}

func parseKlines(data []byte, timeframe string) ([]model.Kline, error) {
	var raw []wsKline
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Kline, 0, len(raw))
	for _, kl := range raw {
		o, err1 := strconv.ParseFloat(kl.Open, 64)
		h, err2 := strconv.ParseFloat(kl.High, 64)
		l, err3 := strconv.ParseFloat(kl.Low, 64)
		cl, err4 := strconv.ParseFloat(kl.Close, 64)
		v, err5 := strconv.ParseFloat(kl.Volume, 64)
		for _, err := range []error{err1, err2, err3, err4, err5} {
			if err != nil {
				return nil, fmt.Errorf("kline field: %w", err)
			}
		}
		out = append(out, model.Kline{
			Timeframe: timeframe,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     cl,
			Volume:    v,
			CloseTime: time.UnixMilli(kl.End).UTC(),
			Closed:    kl.Confirm,
		})
	}
	return out, nil
}

// bybitInterval maps our timeframe names to Bybit interval codes.
func bybitInterval(tf string) (string, error) {
	switch tf {
	case "1m":
		return "1", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", tf)
}
