// Package whale tracks high-value on-chain actors: the address watchlist,
// the balance provider, and the webhook payload decoder that turns raw
// transaction notifications into WhaleIntent events.
package whale

import (
	"github.com/ethereum/go-ethereum/common"
)

// Watchlist is the immutable set of monitored addresses plus the known
// exchange deposit addresses. Loaded once at startup; changes require a
// restart, which keeps reads lock-free.
type Watchlist struct {
	watched      map[common.Address]struct{}
	exchangeTags map[common.Address]string
}

// NewWatchlist normalizes and indexes the configured addresses.
func NewWatchlist(addresses []string, exchangeTags map[string]string) *Watchlist {
	w := &Watchlist{
		watched:      make(map[common.Address]struct{}, len(addresses)),
		exchangeTags: make(map[common.Address]string, len(exchangeTags)),
	}
	for _, a := range addresses {
		if common.IsHexAddress(a) {
			w.watched[common.HexToAddress(a)] = struct{}{}
		}
	}
	for a, tag := range exchangeTags {
		if common.IsHexAddress(a) {
			w.exchangeTags[common.HexToAddress(a)] = tag
		}
	}
	return w
}

// Contains reports whether the address is on the watchlist.
func (w *Watchlist) Contains(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	_, ok := w.watched[common.HexToAddress(address)]
	return ok
}

// ExchangeTag returns the venue name for a known exchange deposit address,
// or "" when the address is untagged.
func (w *Watchlist) ExchangeTag(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return w.exchangeTags[common.HexToAddress(address)]
}

// Addresses returns the watched addresses in checksummed form.
func (w *Watchlist) Addresses() []string {
	out := make([]string, 0, len(w.watched))
	for a := range w.watched {
		out = append(out, a.Hex())
	}
	return out
}

// Len returns the watchlist size.
func (w *Watchlist) Len() int { return len(w.watched) }
