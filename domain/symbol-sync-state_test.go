package domain_test

import (
	"testing"

	"github.com/MNS-Vic/marketprism-sub020/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSymbol(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)
	return symbol
}

func newSpotState(t *testing.T, bufferCapacity int) *domain.SymbolSyncState {
	t.Helper()
	strategy, err := domain.StrategyFor("binance", domain.MarketSpot, 25)
	require.NoError(t, err)
	return domain.NewSymbolSyncState("binance", domain.MarketSpot, testSymbol(t), strategy, bufferCapacity, 3)
}

func newOKXState(t *testing.T) *domain.SymbolSyncState {
	t.Helper()
	strategy, err := domain.StrategyFor("okx", domain.MarketSpot, 25)
	require.NoError(t, err)
	return domain.NewSymbolSyncState("okx", domain.MarketSpot, testSymbol(t), strategy, 10, 3)
}

func spotDelta(t *testing.T, rangeStart, rangeEnd uint64, bids [][]string) *domain.OrderBookDelta {
	t.Helper()
	return &domain.OrderBookDelta{
		Exchange:   "binance",
		Market:     domain.MarketSpot,
		Symbol:     testSymbol(t),
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Bids:       levels(t, bids),
	}
}

func spotSnapshot(t *testing.T, marker uint64) *domain.OrderBookSnapshot {
	t.Helper()
	return &domain.OrderBookSnapshot{
		Exchange:       "binance",
		Market:         domain.MarketSpot,
		Symbol:         testSymbol(t),
		SequenceMarker: marker,
		Bids:           levels(t, [][]string{{"100", "1"}}),
		Asks:           levels(t, [][]string{{"101", "1"}}),
	}
}

func TestSymbolSyncState_BeginResyncDebounced(t *testing.T) {
	state := newSpotState(t, 10)

	out := state.BeginResync()
	assert.True(t, out.NeedSnapshot)
	assert.Equal(t, domain.StatusAwaitingSnapshot, state.Status())

	out = state.BeginResync()
	assert.False(t, out.NeedSnapshot, "a pending fetch must not be duplicated")
}

func TestSymbolSyncState_SeedReplaysBufferedRun(t *testing.T) {
	// Marker 50 with buffered spans {40-45}, {46-50}, {51-55}, {56-60}:
	// the stale two are dropped, the last two are applied.
	state := newSpotState(t, 10)
	state.BeginResync()

	for _, d := range []*domain.OrderBookDelta{
		spotDelta(t, 40, 45, [][]string{{"90", "1"}}),
		spotDelta(t, 46, 50, [][]string{{"91", "1"}}),
		spotDelta(t, 51, 55, [][]string{{"92", "1"}}),
		spotDelta(t, 56, 60, [][]string{{"93", "1"}}),
	} {
		out := state.HandleDelta(d)
		assert.Empty(t, out.Publish, "nothing is published before the first snapshot")
	}

	out := state.SeedSnapshot(spotSnapshot(t, 50))

	require.Len(t, out.Publish, 3)
	assert.Equal(t, domain.KindSnapshot, out.Publish[0].Kind, "snapshot event precedes deltas")
	assert.Equal(t, domain.KindDelta, out.Publish[1].Kind)
	assert.Equal(t, uint64(55), out.Publish[1].Delta.SequenceMarker)
	assert.Equal(t, uint64(60), out.Publish[2].Delta.SequenceMarker)

	assert.True(t, state.IsSynced())
	assert.Equal(t, uint64(60), state.LastAppliedSeq())
	assert.Equal(t, 0, state.ConsecutiveErrors())
}

func TestSymbolSyncState_SeedSameSnapshotTwice(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()

	out := state.SeedSnapshot(spotSnapshot(t, 100))
	require.Len(t, out.Publish, 1)
	firstBids, firstAsks := state.Book().Top(0)

	out = state.SeedSnapshot(spotSnapshot(t, 100))

	require.Len(t, out.Publish, 1, "every reseed announces itself exactly once")
	assert.Equal(t, domain.KindSnapshot, out.Publish[0].Kind)
	assert.True(t, state.IsSynced())
	assert.Equal(t, uint64(100), state.LastAppliedSeq())

	secondBids, secondAsks := state.Book().Top(0)
	assert.Equal(t, firstBids, secondBids, "reseeding the same snapshot must not change the book")
	assert.Equal(t, firstAsks, secondAsks)
}

func TestSymbolSyncState_SeedRefusedWhenSnapshotPredatesBuffer(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()
	state.HandleDelta(spotDelta(t, 60, 65, [][]string{{"90", "1"}}))

	out := state.SeedSnapshot(spotSnapshot(t, 50))

	assert.Empty(t, out.Publish, "an uncoverable snapshot must not be published")
	assert.True(t, out.NeedSnapshot)
	assert.ErrorIs(t, out.Err, domain.ErrSequenceGap)
	assert.False(t, state.IsSynced())
	assert.Equal(t, uint64(0), state.LastAppliedSeq(), "the book stays unseeded")
}

func TestSymbolSyncState_SyncedContiguousApply(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()
	state.SeedSnapshot(spotSnapshot(t, 100))

	out := state.HandleDelta(spotDelta(t, 101, 103, [][]string{{"99", "2"}}))

	require.Len(t, out.Publish, 1)
	assert.Equal(t, domain.KindDelta, out.Publish[0].Kind)
	assert.Equal(t, uint64(103), state.LastAppliedSeq())
	assert.True(t, state.IsSynced())
}

func TestSymbolSyncState_SyncedGapDesyncs(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()
	state.SeedSnapshot(spotSnapshot(t, 100))
	state.HandleDelta(spotDelta(t, 101, 103, [][]string{{"99", "2"}}))

	out := state.HandleDelta(spotDelta(t, 105, 110, [][]string{{"98", "1"}}))

	assert.Empty(t, out.Publish, "no false apply on a broken chain")
	assert.True(t, out.NeedSnapshot)
	assert.ErrorIs(t, out.Err, domain.ErrSequenceGap)
	assert.False(t, state.IsSynced())
	assert.Equal(t, 1, state.ConsecutiveErrors())
	assert.Equal(t, uint64(103), state.LastAppliedSeq(), "the book itself was not touched")
}

func TestSymbolSyncState_SyncedAheadBuffersThenCatchesUp(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()

	// Ahead of the snapshot before the first delta lands: buffered.
	out := state.SeedSnapshot(spotSnapshot(t, 100))
	require.Len(t, out.Publish, 1)

	out = state.HandleDelta(spotDelta(t, 103, 105, [][]string{{"97", "1"}}))
	assert.Empty(t, out.Publish)
	assert.True(t, state.IsSynced(), "buffering ahead must not desync")

	// The missing span arrives; the buffered delta is drained behind it.
	out = state.HandleDelta(spotDelta(t, 99, 102, [][]string{{"98", "1"}}))
	require.Len(t, out.Publish, 2)
	assert.Equal(t, uint64(102), out.Publish[0].Delta.SequenceMarker)
	assert.Equal(t, uint64(105), out.Publish[1].Delta.SequenceMarker)
	assert.Equal(t, uint64(105), state.LastAppliedSeq())
}

func TestSymbolSyncState_StaleDeltaIgnored(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()
	state.SeedSnapshot(spotSnapshot(t, 100))

	out := state.HandleDelta(spotDelta(t, 95, 100, [][]string{{"50", "1"}}))

	assert.Empty(t, out.Publish)
	assert.NoError(t, out.Err, "stale updates are routine, not errors")
	assert.True(t, state.IsSynced())
}

func TestSymbolSyncState_BufferOverflowWhileAwaiting(t *testing.T) {
	state := newSpotState(t, 2)
	state.BeginResync()

	assert.Empty(t, state.HandleDelta(spotDelta(t, 101, 105, nil)).Publish)
	state.HandleDelta(spotDelta(t, 106, 110, nil))

	out := state.HandleDelta(spotDelta(t, 111, 115, nil))

	assert.ErrorIs(t, out.Err, domain.ErrBufferOverflow)
	assert.False(t, out.NeedSnapshot, "the fetch already in flight is not duplicated")
	assert.Equal(t, domain.StatusAwaitingSnapshot, state.Status())
	assert.Equal(t, 1, state.ConsecutiveErrors())
	assert.Equal(t, 0, state.Health().BufferDepth, "the untrustworthy buffer is dropped")

	// The pending snapshot reseeds cleanly over the emptied buffer.
	out = state.SeedSnapshot(spotSnapshot(t, 200))
	require.Len(t, out.Publish, 1)
	assert.True(t, state.IsSynced())
	assert.Equal(t, 0, state.ConsecutiveErrors())
}

func TestSymbolSyncState_BufferOverflowWhileSyncedForcesResync(t *testing.T) {
	state := newSpotState(t, 2)
	state.BeginResync()
	state.SeedSnapshot(spotSnapshot(t, 100))
	require.True(t, state.IsSynced())

	// Deltas ahead of the book pile into the buffer until it spills.
	state.HandleDelta(spotDelta(t, 103, 105, nil))
	state.HandleDelta(spotDelta(t, 107, 110, nil))
	out := state.HandleDelta(spotDelta(t, 112, 115, nil))

	assert.ErrorIs(t, out.Err, domain.ErrBufferOverflow)
	assert.True(t, out.NeedSnapshot, "a broken buffer chain needs a fresh snapshot")
	assert.False(t, state.IsSynced())
	assert.Equal(t, 0, state.Health().BufferDepth)
}

func TestSymbolSyncState_ChecksumMismatchDesyncs(t *testing.T) {
	state := newOKXState(t)
	state.BeginResync()

	snap := &domain.OrderBookSnapshot{
		Exchange:       "okx",
		Market:         domain.MarketSpot,
		Symbol:         testSymbol(t),
		SequenceMarker: 100,
		Bids:           levels(t, [][]string{{"100", "1"}}),
		Asks:           levels(t, [][]string{{"101", "1"}}),
	}
	out := state.SeedSnapshot(snap)
	require.Len(t, out.Publish, 1)
	require.True(t, state.IsSynced())

	bad := &domain.OrderBookDelta{
		Exchange:    "okx",
		Market:      domain.MarketSpot,
		Symbol:      testSymbol(t),
		RangeStart:  105,
		RangeEnd:    105,
		LinkMarker:  100,
		HasLink:     true,
		Checksum:    1, // will not match the merged book
		HasChecksum: true,
		Bids:        levels(t, [][]string{{"99", "3"}}),
	}
	out = state.HandleDelta(bad)

	assert.Empty(t, out.Publish, "a diverged book must not be published")
	assert.True(t, out.NeedSnapshot)
	assert.ErrorIs(t, out.Err, domain.ErrChecksumMismatch)
	assert.False(t, state.IsSynced())
}

func okxSnapshot(t *testing.T, marker uint64, withChecksum bool) *domain.OrderBookSnapshot {
	t.Helper()
	bids := levels(t, [][]string{{"100", "1"}})
	asks := levels(t, [][]string{{"101", "1"}})

	snap := &domain.OrderBookSnapshot{
		Exchange:       "okx",
		Market:         domain.MarketSpot,
		Symbol:         testSymbol(t),
		SequenceMarker: marker,
		Bids:           bids,
		Asks:           asks,
	}
	if withChecksum {
		scratch := domain.NewLocalOrderBook()
		scratch.Seed(bids, asks)
		snap.Checksum = scratch.Checksum(25)
		snap.HasChecksum = true
	}
	return snap
}

func TestSymbolSyncState_SeedVerifiesDeclaredChecksum(t *testing.T) {
	state := newOKXState(t)
	state.BeginResync()

	out := state.SeedSnapshot(okxSnapshot(t, 100, true))

	require.Len(t, out.Publish, 1)
	assert.True(t, state.IsSynced())
	assert.Equal(t, uint64(100), state.LastAppliedSeq())
}

func TestSymbolSyncState_SeedChecksumMismatchRefetches(t *testing.T) {
	state := newOKXState(t)
	state.BeginResync()

	bad := okxSnapshot(t, 100, true)
	bad.Checksum++

	out := state.SeedSnapshot(bad)

	assert.Empty(t, out.Publish, "a corrupted snapshot must not be published")
	assert.True(t, out.NeedSnapshot)
	assert.ErrorIs(t, out.Err, domain.ErrChecksumMismatch)
	assert.False(t, state.IsSynced())
	assert.Equal(t, 1, state.ConsecutiveErrors())
}

func TestSymbolSyncState_OKXDropsDeltasWhileUnsynced(t *testing.T) {
	state := newOKXState(t)
	state.BeginResync()

	out := state.HandleDelta(&domain.OrderBookDelta{
		Exchange: "okx", Market: domain.MarketSpot, Symbol: testSymbol(t),
		RangeStart: 10, RangeEnd: 10, LinkMarker: 9, HasLink: true,
	})

	assert.Empty(t, out.Publish)
	assert.Equal(t, 0, state.Health().BufferDepth, "no buffering without catch-up support")
}

func TestSymbolSyncState_FetchFailureAlertsAtThreshold(t *testing.T) {
	state := newSpotState(t, 10) // threshold 3
	state.BeginResync()

	out := state.SnapshotFetchFailed(domain.ErrTransientNetwork)
	assert.True(t, out.NeedSnapshot)
	assert.False(t, out.Alert)

	state.SnapshotFetchFailed(domain.ErrTransientNetwork)
	out = state.SnapshotFetchFailed(domain.ErrTransientNetwork)
	assert.True(t, out.Alert, "the third consecutive failure crosses the threshold")
	assert.Equal(t, 3, state.ConsecutiveErrors())

	// Success resets the streak.
	state.SeedSnapshot(spotSnapshot(t, 100))
	assert.Equal(t, 0, state.ConsecutiveErrors())
}

func TestSymbolSyncState_HealthReport(t *testing.T) {
	state := newSpotState(t, 10)
	state.BeginResync()
	state.SeedSnapshot(spotSnapshot(t, 100))

	report := state.Health()

	assert.Equal(t, "binance", report.Exchange)
	assert.Equal(t, "spot", report.Market)
	assert.Equal(t, "btc_usdt", report.Symbol)
	assert.True(t, report.IsSynced)
	assert.Equal(t, domain.StatusSynced, report.Status)
	assert.Equal(t, uint64(100), report.LastAppliedSeq)
	assert.False(t, report.LastSnapshotAt.IsZero())
}
