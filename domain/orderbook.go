package domain

import (
	"hash/crc32"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// LocalOrderBook is the in-memory book maintained by a SymbolSyncState.
// Sides are keyed by the normalized decimal price string, so "10.300" and
// "10.3" address the same level and the zero-quantity removal comparison is
// exact. Not safe for concurrent use; every book is owned by a single worker.
type LocalOrderBook struct {
	bids map[string]PriceLevel
	asks map[string]PriceLevel
}

func NewLocalOrderBook() *LocalOrderBook {
	return &LocalOrderBook{
		bids: make(map[string]PriceLevel),
		asks: make(map[string]PriceLevel),
	}
}

// Seed replaces the whole book with snapshot contents. Zero-quantity levels
// in a snapshot are skipped rather than stored.
func (ob *LocalOrderBook) Seed(bids, asks []PriceLevel) {
	ob.bids = make(map[string]PriceLevel, len(bids))
	ob.asks = make(map[string]PriceLevel, len(asks))
	ob.applySide(ob.bids, bids)
	ob.applySide(ob.asks, asks)
}

// Apply merges a delta into the book: quantity zero removes the level,
// anything else overwrites it.
func (ob *LocalOrderBook) Apply(delta *OrderBookDelta) {
	ob.applySide(ob.bids, delta.Bids)
	ob.applySide(ob.asks, delta.Asks)
}

func (ob *LocalOrderBook) applySide(side map[string]PriceLevel, levels []PriceLevel) {
	for _, level := range levels {
		key := level.Price.String()
		if level.Quantity.IsZero() {
			delete(side, key)
		} else {
			side[key] = level
		}
	}
}

// Bids returns the bid side sorted descending by price.
func (ob *LocalOrderBook) Bids() []PriceLevel {
	return sortedLevels(ob.bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// Asks returns the ask side sorted ascending by price.
func (ob *LocalOrderBook) Asks() []PriceLevel {
	return sortedLevels(ob.asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

// Top returns at most depth levels of each side, best first. depth <= 0
// means no limit.
func (ob *LocalOrderBook) Top(depth int) (bids, asks []PriceLevel) {
	bids = limitDepth(ob.Bids(), depth)
	asks = limitDepth(ob.Asks(), depth)
	return bids, asks
}

func (ob *LocalOrderBook) Depth() (bids, asks int) {
	return len(ob.bids), len(ob.asks)
}

// Checksum computes the CRC32 the checksum-linked exchanges declare on each
// message: the top depth levels of both sides interleaved as
// "bidPx:bidSz:askPx:askSz:...", with the longer side's remainder appended.
func (ob *LocalOrderBook) Checksum(depth int) int32 {
	bids, asks := ob.Top(depth)

	parts := make([]string, 0, 2*(len(bids)+len(asks)))
	for i := 0; i < len(bids) || i < len(asks); i++ {
		if i < len(bids) {
			parts = append(parts, bids[i].Price.String(), bids[i].Quantity.String())
		}
		if i < len(asks) {
			parts = append(parts, asks[i].Price.String(), asks[i].Quantity.String())
		}
	}

	payload := strings.Join(parts, ":")
	return int32(crc32.ChecksumIEEE([]byte(payload)))
}

func sortedLevels(side map[string]PriceLevel, before func(a, b decimal.Decimal) bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(side))
	for _, level := range side {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		return before(levels[i].Price, levels[j].Price)
	})
	return levels
}

func limitDepth(levels []PriceLevel, limit int) []PriceLevel {
	if limit > 0 && len(levels) > limit {
		return levels[:limit]
	}
	return levels
}
