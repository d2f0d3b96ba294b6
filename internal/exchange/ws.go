// ws.go implements the WebSocket market-data feeds.
//
// Three independent feeds can run concurrently:
//
//   - Depth feed: diff-depth deltas for the traded symbol. Deltas are never
//     dropped within a session; the consumer reseeds from a REST snapshot on
//     every reconnect.
//
//   - Perpetuals feed: open interest + funding rate ticker, subscribed with
//     an {op:"subscribe", args:[...]} message.
//
//   - Mark-price feed: futures mark-price stream (self-subscribing URL).
//
// All feeds auto-reconnect with exponential backoff (1s → 30s max); the
// attempt counter resets on a successful read. After maxReconnects failed
// attempts a feed publishes a DEGRADED health event but keeps retrying at
// the capped delay — one dead venue never stops the engine. A read deadline
// detects silent server failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentrycoin/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	depthBufferSize  = 256
	derivBufferSize  = 64
	healthBufferSize = 8
)

// reconnectDelay is min(30s, 1s * 2^attempts).
func reconnectDelay(attempts int) time.Duration {
	if attempts >= 5 {
		return maxReconnectWait
	}
	d := time.Second << uint(attempts)
	if d > maxReconnectWait {
		d = maxReconnectWait
	}
	return d
}

// feed holds the connection lifecycle shared by all three streams.
type feed struct {
	name          string
	url           string
	maxReconnects int

	connMu sync.Mutex
	conn   *websocket.Conn

	health chan types.HealthEvent
	logger *slog.Logger
}

func newFeed(name, url string, maxReconnects int, logger *slog.Logger) feed {
	return feed{
		name:          name,
		url:           url,
		maxReconnects: maxReconnects,
		health:        make(chan types.HealthEvent, healthBufferSize),
		logger:        logger.With("component", "ws_"+name),
	}
}

// Health returns the stream's connectivity events. Never blocks the feed:
// events are dropped when the consumer lags.
func (f *feed) Health() <-chan types.HealthEvent { return f.health }

func (f *feed) publishHealth(state types.ComponentState, detail string) {
	ev := types.HealthEvent{
		Component: f.name,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	select {
	case f.health <- ev:
	default:
		f.logger.Warn("health channel full, dropping event", "state", state)
	}
}

// Close gracefully closes the connection.
func (f *feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("%s: not connected", f.name)
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

// run connects and reads until ctx is cancelled. onConnect sends the
// subscription (may be nil), onMessage handles each frame.
func (f *feed) run(ctx context.Context, onConnect func() error, onMessage func(data []byte)) error {
	attempts := 0
	degraded := false

	for {
		err := f.connectAndRead(ctx, onConnect, onMessage, &attempts)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts >= f.maxReconnects && !degraded {
			degraded = true
			f.publishHealth(types.StateOffline, fmt.Sprintf("degraded after %d reconnect attempts", attempts))
			f.logger.Error("stream degraded", "attempts", attempts)
		}

		delay := reconnectDelay(attempts)
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", delay, "attempts", attempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *feed) connectAndRead(ctx context.Context, onConnect func() error, onMessage func(data []byte), attempts *int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if onConnect != nil {
		if err := onConnect(); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("websocket connected")
	f.publishHealth(types.StateOnline, "connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		*attempts = 0 // healthy traffic resets the backoff ladder
		onMessage(msg)
	}
}

func (f *feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Depth feed
// ————————————————————————————————————————————————————————————————————————

// DepthFeed streams incremental diff-depth deltas. The stream URL carries
// the symbol subscription, so no subscribe frame is sent.
type DepthFeed struct {
	feed
	symbol  string
	updates chan types.DepthUpdate
}

// NewDepthFeed creates the order-book delta feed.
func NewDepthFeed(wsURL, symbol string, maxReconnects int, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		feed:    newFeed("depth", wsURL, maxReconnects, logger),
		symbol:  symbol,
		updates: make(chan types.DepthUpdate, depthBufferSize),
	}
}

// Updates returns the delta channel. Deltas are delivered in arrival order
// and never dropped while the session lives; a slow consumer backpressures
// the read loop instead.
func (f *DepthFeed) Updates() <-chan types.DepthUpdate { return f.updates }

// Run connects and maintains the stream until ctx is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	return f.run(ctx, nil, func(data []byte) {
		var upd types.DepthUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			f.logger.Debug("ignoring unparseable depth frame", "error", err)
			return
		}
		if upd.EventType != "depthUpdate" {
			return
		}
		if upd.Symbol != "" && !strings.EqualFold(upd.Symbol, f.symbol) {
			return
		}
		select {
		case f.updates <- upd:
		case <-ctx.Done():
		}
	})
}

// ————————————————————————————————————————————————————————————————————————
// Derivatives feeds
// ————————————————————————————————————————————————————————————————————————

// perpTickerMsg is the {op:"subscribe"} venue's ticker frame. Numeric fields
// arrive as strings.
type perpTickerMsg struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol       string `json:"symbol"`
		OpenInterest string `json:"openInterest"`
		FundingRate  string `json:"fundingRate"`
		MarkPrice    string `json:"markPrice"`
	} `json:"data"`
}

// markPriceMsg is the futures mark-price frame (self-subscribing stream).
type markPriceMsg struct {
	EventType   string `json:"e"` // "markPriceUpdate"
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

// DerivFeed streams derivatives telemetry from one venue and normalizes it
// into DerivativesUpdate ticks. Updates may be coalesced: when the consumer
// lags, the oldest tick is dropped.
type DerivFeed struct {
	feed
	venue   string // "perp" or "mark"
	args    []string
	updates chan types.DerivativesUpdate
}

// NewPerpFeed creates the perpetuals ticker feed (OI + funding). args are
// the venue subscription topics, e.g. ["tickers.ETHUSDT"].
func NewPerpFeed(wsURL string, args []string, maxReconnects int, logger *slog.Logger) *DerivFeed {
	return &DerivFeed{
		feed:    newFeed("deriv_perp", wsURL, maxReconnects, logger),
		venue:   "perp",
		args:    args,
		updates: make(chan types.DerivativesUpdate, derivBufferSize),
	}
}

// NewMarkFeed creates the futures mark-price feed.
func NewMarkFeed(wsURL string, maxReconnects int, logger *slog.Logger) *DerivFeed {
	return &DerivFeed{
		feed:    newFeed("deriv_mark", wsURL, maxReconnects, logger),
		venue:   "mark",
		updates: make(chan types.DerivativesUpdate, derivBufferSize),
	}
}

// Updates returns the normalized derivatives tick channel.
func (f *DerivFeed) Updates() <-chan types.DerivativesUpdate { return f.updates }

// Run connects and maintains the stream until ctx is cancelled.
func (f *DerivFeed) Run(ctx context.Context) error {
	var onConnect func() error
	if len(f.args) > 0 {
		onConnect = func() error {
			return f.writeJSON(map[string]any{"op": "subscribe", "args": f.args})
		}
	}
	return f.run(ctx, onConnect, f.dispatchMessage)
}

func (f *DerivFeed) dispatchMessage(data []byte) {
	upd, ok := f.parse(data)
	if !ok {
		return
	}
	// Coalesce: drop the oldest tick when the consumer lags.
	select {
	case f.updates <- upd:
	default:
		select {
		case <-f.updates:
		default:
		}
		select {
		case f.updates <- upd:
		default:
		}
	}
}

func (f *DerivFeed) parse(data []byte) (types.DerivativesUpdate, bool) {
	now := time.Now()

	if f.venue == "perp" {
		var msg perpTickerMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
			return types.DerivativesUpdate{}, false
		}
		return types.DerivativesUpdate{
			Venue:        "perp",
			Symbol:       msg.Data.Symbol,
			OpenInterest: parseFloat(msg.Data.OpenInterest),
			FundingRate:  parseFloat(msg.Data.FundingRate),
			MarkPrice:    parseFloat(msg.Data.MarkPrice),
			Timestamp:    now,
		}, true
	}

	var msg markPriceMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.EventType != "markPriceUpdate" {
		return types.DerivativesUpdate{}, false
	}
	return types.DerivativesUpdate{
		Venue:       "mark",
		Symbol:      msg.Symbol,
		MarkPrice:   parseFloat(msg.MarkPrice),
		FundingRate: parseFloat(msg.FundingRate),
		Timestamp:   now,
	}, true
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
