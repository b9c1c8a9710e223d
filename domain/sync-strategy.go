package domain

import "fmt"

// Decision is the verdict a SyncStrategy gives for one incoming delta.
type Decision int

const (
	// Apply the delta to the local book and publish it.
	DecisionApply Decision = iota
	// Hold the delta until the book catches up to it.
	DecisionBuffer
	// Drop the delta silently; it predates the current book.
	DecisionDiscard
	// The chain is broken. The book must be re-seeded from a snapshot.
	DecisionResync
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionBuffer:
		return "buffer"
	case DecisionDiscard:
		return "discard"
	case DecisionResync:
		return "resync"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// SyncCursor is the slice of SymbolSyncState a strategy needs to judge a
// delta: where the book is and whether the post-snapshot coverage delta has
// been applied yet.
type SyncCursor struct {
	LastAppliedSeq    uint64
	FirstDeltaApplied bool
}

// SyncStrategy is the per-exchange-family decision logic. It is pure: it
// never mutates the book or the buffer, only classifies the delta.
type SyncStrategy interface {
	Name() string
	Evaluate(cursor SyncCursor, delta *OrderBookDelta) (Decision, error)
	// AllowsBuffering reports whether the exchange retains enough history
	// for a buffer-then-catch-up resync. Checksum-linked exchanges do not:
	// any break there is an immediate reseed.
	AllowsBuffering() bool
}

// BookVerifier is implemented by strategies that validate the merged book
// after a delta is applied (the checksum-linked family).
type BookVerifier interface {
	VerifyBook(book *LocalOrderBook, delta *OrderBookDelta) error
}

// SnapshotVerifier is implemented by strategies whose snapshots carry their
// own declared checksum, verified against the freshly seeded book.
type SnapshotVerifier interface {
	VerifySnapshot(book *LocalOrderBook, snap *OrderBookSnapshot) error
}

// StrategyFor selects the strategy variant by exchange identity. The state
// machine itself stays exchange-agnostic.
func StrategyFor(exchange string, market MarketType, checksumDepth int) (SyncStrategy, error) {
	switch exchange {
	case "binance":
		return &BinanceSyncStrategy{Futures: market == MarketFutures}, nil
	case "okx":
		return &OKXSyncStrategy{ChecksumDepth: checksumDepth}, nil
	case "kucoin":
		return &KucoinSyncStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
}
