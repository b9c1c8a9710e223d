package domain_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MNS-Vic/marketprism-sub020/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSyncAPI serves canned responses in order, repeating the last one.
type fakeSyncAPI struct {
	calls     atomic.Int32
	responses []fakeResponse
}

type fakeResponse struct {
	snap *domain.OrderBookSnapshot
	err  error
}

func (f *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, market domain.MarketType, symbol *domain.MarketSymbol, depth int) (*domain.OrderBookSnapshot, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	r := f.responses[n]
	return r.snap, r.err
}

func validFake(t *testing.T, marker uint64) *domain.OrderBookSnapshot {
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

func TestSnapshotFetcher_Success(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{snap: validFake(t, 42)},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 3, 1000)

	snap, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.SequenceMarker)
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestSnapshotFetcher_RetriesTransientFailure(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{err: domain.ErrTransientNetwork},
		{snap: validFake(t, 42)},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 3, 1000)

	snap, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.SequenceMarker)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestSnapshotFetcher_ExhaustsAttempts(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{err: domain.ErrTransientNetwork},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 2, 1000)

	_, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	assert.ErrorIs(t, err, domain.ErrTransientNetwork)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestSnapshotFetcher_RateLimitedNotRetried(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{err: domain.ErrRateLimited},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 3, 1000)

	_, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(1), api.calls.Load(), "hammering a throttling endpoint makes it worse")
}

func TestSnapshotFetcher_InvalidSnapshotRetried(t *testing.T) {
	missingMarker := validFake(t, 42)
	missingMarker.SequenceMarker = 0

	api := &fakeSyncAPI{responses: []fakeResponse{
		{snap: missingMarker},
		{snap: validFake(t, 42)},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 3, 1000)

	snap, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.SequenceMarker)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestSnapshotFetcher_InvalidSnapshotExhaustsAsError(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{snap: &domain.OrderBookSnapshot{}},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 2, 1000)

	_, err := fetcher.Fetch(context.Background(), domain.MarketSpot, testSymbol(t))

	assert.ErrorIs(t, err, domain.ErrSnapshotInvalid)
}

func TestSnapshotFetcher_ContextCanceled(t *testing.T) {
	api := &fakeSyncAPI{responses: []fakeResponse{
		{err: domain.ErrTransientNetwork},
	}}
	fetcher := domain.NewSnapshotFetcher("binance", api, 100, time.Second, 5, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, domain.MarketSpot, testSymbol(t))

	assert.ErrorIs(t, err, context.Canceled)
}
