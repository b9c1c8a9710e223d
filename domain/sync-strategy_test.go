package domain_test

import (
	"testing"

	"github.com/MNS-Vic/marketprism-sub020/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyFor(t *testing.T) {
	spot, err := domain.StrategyFor("binance", domain.MarketSpot, 25)
	require.NoError(t, err)
	assert.Equal(t, "binance", spot.Name())

	futures, err := domain.StrategyFor("binance", domain.MarketFutures, 25)
	require.NoError(t, err)
	assert.Equal(t, "binance-futures", futures.Name())

	okx, err := domain.StrategyFor("okx", domain.MarketSpot, 25)
	require.NoError(t, err)
	assert.Equal(t, "okx", okx.Name())
	assert.False(t, okx.AllowsBuffering())

	kucoin, err := domain.StrategyFor("kucoin", domain.MarketSpot, 25)
	require.NoError(t, err)
	assert.True(t, kucoin.AllowsBuffering())

	_, err = domain.StrategyFor("bitmex", domain.MarketSpot, 25)
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)
}

func TestBinanceSpotStrategy_Evaluate(t *testing.T) {
	strategy := &domain.BinanceSyncStrategy{}

	tests := []struct {
		name     string
		cursor   domain.SyncCursor
		delta    *domain.OrderBookDelta
		decision domain.Decision
	}{
		{
			"StaleDiscarded",
			domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true},
			delta(95, 100),
			domain.DecisionDiscard,
		},
		{
			"FirstDeltaCoveringMarkerApplies",
			domain.SyncCursor{LastAppliedSeq: 100},
			delta(98, 105),
			domain.DecisionApply,
		},
		{
			"FirstDeltaAheadOfMarkerBuffers",
			domain.SyncCursor{LastAppliedSeq: 100},
			delta(102, 110),
			domain.DecisionBuffer,
		},
		{
			"ContiguousApplies",
			domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true},
			delta(101, 105),
			domain.DecisionApply,
		},
		{
			"GapForcesResync",
			domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true},
			delta(102, 110),
			domain.DecisionResync,
		},
		{
			"OverlapMidStreamForcesResync",
			domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true},
			delta(99, 105),
			domain.DecisionResync,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := strategy.Evaluate(tt.cursor, tt.delta)
			assert.Equal(t, tt.decision, decision)
			switch tt.decision {
			case domain.DecisionDiscard:
				assert.ErrorIs(t, err, domain.ErrStaleUpdate)
			case domain.DecisionResync:
				assert.ErrorIs(t, err, domain.ErrSequenceGap)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func linkedDelta(rangeStart, rangeEnd, link uint64) *domain.OrderBookDelta {
	d := delta(rangeStart, rangeEnd)
	d.LinkMarker = link
	d.HasLink = true
	return d
}

func TestBinanceFuturesStrategy_Evaluate(t *testing.T) {
	strategy := &domain.BinanceSyncStrategy{Futures: true}
	cursor := domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true}

	decision, err := strategy.Evaluate(cursor, linkedDelta(101, 105, 100))
	assert.NoError(t, err)
	assert.Equal(t, domain.DecisionApply, decision, "pu matching previous u chains")

	decision, err = strategy.Evaluate(cursor, linkedDelta(103, 110, 102))
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, domain.DecisionResync, decision, "pu mismatch breaks the chain")

	decision, err = strategy.Evaluate(cursor, delta(101, 105))
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, domain.DecisionResync, decision, "missing link field breaks the chain")

	// First processed event after the snapshot uses the range window, not pu.
	first := domain.SyncCursor{LastAppliedSeq: 100}
	decision, err = strategy.Evaluate(first, linkedDelta(99, 104, 98))
	assert.NoError(t, err)
	assert.Equal(t, domain.DecisionApply, decision)
}

func TestKucoinStrategy_Evaluate(t *testing.T) {
	strategy := &domain.KucoinSyncStrategy{}

	decision, err := strategy.Evaluate(domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true}, delta(95, 100))
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)
	assert.Equal(t, domain.DecisionDiscard, decision)

	// Overlap stays applicable mid-stream.
	decision, err = strategy.Evaluate(domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true}, delta(98, 105))
	assert.NoError(t, err)
	assert.Equal(t, domain.DecisionApply, decision)

	decision, err = strategy.Evaluate(domain.SyncCursor{LastAppliedSeq: 100}, delta(102, 110))
	assert.NoError(t, err)
	assert.Equal(t, domain.DecisionBuffer, decision)

	decision, err = strategy.Evaluate(domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true}, delta(102, 110))
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, domain.DecisionResync, decision)
}

func TestOKXStrategy_Evaluate(t *testing.T) {
	strategy := &domain.OKXSyncStrategy{ChecksumDepth: 25}
	cursor := domain.SyncCursor{LastAppliedSeq: 100, FirstDeltaApplied: true}

	decision, err := strategy.Evaluate(cursor, linkedDelta(95, 100, 95))
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)
	assert.Equal(t, domain.DecisionDiscard, decision)

	decision, err = strategy.Evaluate(cursor, linkedDelta(105, 105, 100))
	assert.NoError(t, err)
	assert.Equal(t, domain.DecisionApply, decision)

	decision, err = strategy.Evaluate(cursor, linkedDelta(110, 110, 105))
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, domain.DecisionResync, decision)

	decision, err = strategy.Evaluate(cursor, delta(105, 105))
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, domain.DecisionResync, decision, "missing prevSeqId cannot chain")
}

func TestOKXStrategy_VerifyBook(t *testing.T) {
	strategy := &domain.OKXSyncStrategy{ChecksumDepth: 25}

	book := domain.NewLocalOrderBook()
	book.Seed(
		levels(t, [][]string{{"8476.98", "415"}, {"8475.55", "100"}}),
		levels(t, [][]string{{"8477", "7"}, {"8477.34", "85"}}),
	)

	good := &domain.OrderBookDelta{Checksum: book.Checksum(25), HasChecksum: true}
	assert.NoError(t, strategy.VerifyBook(book, good))

	bad := &domain.OrderBookDelta{Checksum: book.Checksum(25) + 1, HasChecksum: true}
	assert.ErrorIs(t, strategy.VerifyBook(book, bad), domain.ErrChecksumMismatch)

	unchecked := &domain.OrderBookDelta{}
	assert.NoError(t, strategy.VerifyBook(book, unchecked), "messages without a declared checksum skip verification")
}

func TestOKXStrategy_VerifySnapshot(t *testing.T) {
	strategy := &domain.OKXSyncStrategy{ChecksumDepth: 25}

	book := domain.NewLocalOrderBook()
	book.Seed(
		levels(t, [][]string{{"8476.98", "415"}}),
		levels(t, [][]string{{"8477", "7"}}),
	)

	good := &domain.OrderBookSnapshot{Checksum: book.Checksum(25), HasChecksum: true}
	assert.NoError(t, strategy.VerifySnapshot(book, good))

	bad := &domain.OrderBookSnapshot{Checksum: book.Checksum(25) + 1, HasChecksum: true}
	assert.ErrorIs(t, strategy.VerifySnapshot(book, bad), domain.ErrChecksumMismatch)

	unchecked := &domain.OrderBookSnapshot{}
	assert.NoError(t, strategy.VerifySnapshot(book, unchecked))
}
