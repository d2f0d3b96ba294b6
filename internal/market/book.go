// Package market provides the local order book mirror and derived features.
//
// Book mirrors the venue's depth book for a single symbol. It is seeded from
// a REST snapshot and then maintained from WebSocket diff-depth deltas:
//   - a delta level with quantity 0 removes that price level
//   - any other delta level replaces it
//   - deltas at or below the last applied update ID are dropped
//
// The Book is concurrency-safe (RWMutex protected) and provides derived
// values (Snapshot, Pressure, MidPrice) for the analyzer and classifier.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sentrycoin/pkg/types"
)

// Book maintains a local mirror of the depth book for one symbol.
// Levels are keyed by their exact price string so venue precision survives.
type Book struct {
	mu           sync.RWMutex
	symbol       string
	bids         map[string]types.Level
	asks         map[string]types.Level
	lastUpdateID int64
	updated      time.Time
}

// NewBook creates an empty book for a symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[string]types.Level),
		asks:   make(map[string]types.Level),
	}
}

// ApplySnapshot replaces the whole book with a REST depth snapshot.
func (b *Book) ApplySnapshot(snap *types.DepthSnapshot) error {
	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return err
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = bids
	b.asks = asks
	b.lastUpdateID = snap.LastUpdateID
	b.updated = time.Now()
	return nil
}

// ApplyDelta applies one diff-depth event. Returns false when the event is
// stale (FinalUpdateID <= lastUpdateID) and was dropped, which also makes
// re-application of the same delta a no-op.
func (b *Book) ApplyDelta(update types.DepthUpdate) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.FinalUpdateID <= b.lastUpdateID {
		return false, nil
	}

	if err := applyLevels(b.bids, update.Bids); err != nil {
		return false, err
	}
	if err := applyLevels(b.asks, update.Asks); err != nil {
		return false, err
	}

	b.lastUpdateID = update.FinalUpdateID
	b.updated = time.UnixMilli(update.EventTime)
	return true, nil
}

// Reset clears the book, e.g. after a stream reconnect before the fresh
// snapshot arrives.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]types.Level)
	b.asks = make(map[string]types.Level)
	b.lastUpdateID = 0
}

// LastUpdateID returns the sequence number of the last applied event.
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// Snapshot returns the top-depth levels, bids descending and asks ascending.
func (b *Book) Snapshot(depth int) types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids := sortLevels(b.bids, true)
	asks := sortLevels(b.asks, false)
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}

	return types.OrderBookSnapshot{
		Symbol:    b.symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: b.updated,
	}
}

// MidPrice returns (bestBid + bestAsk) / 2. False when either side is empty.
func (b *Book) MidPrice() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, bidOK := bestPrice(b.bids, true)
	ask, askOK := bestPrice(b.asks, false)
	if !bidOK || !askOK {
		return 0, false
	}
	mid, _ := bid.Add(ask).Div(decimal.NewFromInt(2)).Float64()
	return mid, true
}

// Pressure returns total ask volume divided by total bid volume across the
// top-N levels of each side. Returns 0 when bid volume is zero.
func (b *Book) Pressure(topN int) float64 {
	snap := b.Snapshot(topN)
	return PressureOf(snap)
}

// PressureOf computes the ask/bid volume ratio for an existing snapshot.
func PressureOf(snap types.OrderBookSnapshot) float64 {
	bidVol := decimal.Zero
	for _, lvl := range snap.Bids {
		bidVol = bidVol.Add(lvl.Qty)
	}
	askVol := decimal.Zero
	for _, lvl := range snap.Asks {
		askVol = askVol.Add(lvl.Qty)
	}
	if bidVol.IsZero() {
		return 0
	}
	p, _ := askVol.Div(bidVol).Float64()
	return p
}

// IsStale returns true if no book data arrived within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

func parseLevels(raw [][2]string) (map[string]types.Level, error) {
	out := make(map[string]types.Level, len(raw))
	if err := applyLevels(out, raw); err != nil {
		return nil, err
	}
	return out, nil
}

func applyLevels(side map[string]types.Level, raw [][2]string) error {
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return err
		}
		// Canonical decimal key so "3500.5" and "3500.50" hit the same level.
		key := price.String()
		if qty.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = types.Level{Price: price, Qty: qty}
	}
	return nil
}

func sortLevels(side map[string]types.Level, desc bool) []types.Level {
	out := make([]types.Level, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

func bestPrice(side map[string]types.Level, max bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lvl := range side {
		if !found {
			best = lvl.Price
			found = true
			continue
		}
		if max && lvl.Price.GreaterThan(best) {
			best = lvl.Price
		} else if !max && lvl.Price.LessThan(best) {
			best = lvl.Price
		}
	}
	return best, found
}
