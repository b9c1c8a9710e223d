package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// ProviderSyncAPI is the external REST/WS-API collaborator that produces raw
// snapshots. Implementations map transport failures onto the error taxonomy:
// ErrRateLimited, ErrTransientNetwork, ErrSnapshotInvalid.
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, market MarketType, symbol *MarketSymbol, depth int) (*OrderBookSnapshot, error)
}

// SnapshotFetcher wraps a provider sync API with the shared REST budget and
// bounded retries. One fetcher exists per exchange; its limiter is the single
// arbiter for that exchange's snapshot budget, shared by all symbols.
type SnapshotFetcher struct {
	exchange    string
	api         ProviderSyncAPI
	limiter     ratelimit.Limiter
	timeout     time.Duration
	maxAttempts int
	depth       int
	log         *logrus.Entry
}

const (
	DefaultSnapshotTimeout     = 10 * time.Second
	DefaultSnapshotMaxAttempts = 3
	DefaultSnapshotDepth       = 1000
)

func NewSnapshotFetcher(exchange string, api ProviderSyncAPI, requestsPerSecond int, timeout time.Duration, maxAttempts, depth int) *SnapshotFetcher {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultSnapshotMaxAttempts
	}
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}
	return &SnapshotFetcher{
		exchange:    exchange,
		api:         api,
		limiter:     ratelimit.New(requestsPerSecond),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		depth:       depth,
		log: logrus.WithFields(logrus.Fields{
			"component": "snapshot-fetcher",
			"exchange":  exchange,
		}),
	}
}

// Fetch acquires budget, issues the request and retries transient failures
// with exponential backoff up to the attempt bound. A rate-limited response
// is returned immediately: the caller owns the longer backoff there.
func (f *SnapshotFetcher) Fetch(ctx context.Context, market MarketType, symbol *MarketSymbol) (*OrderBookSnapshot, error) {
	retry := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retry.Duration()); err != nil {
				return nil, err
			}
		}

		f.limiter.Take()

		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		snap, err := f.api.OrderBookSnapshot(attemptCtx, market, symbol, f.depth)
		cancel()

		if err == nil {
			if verr := validateSnapshot(snap); verr != nil {
				// Malformed payload retries like a network failure.
				lastErr = verr
				f.log.WithError(verr).Warn("snapshot rejected")
				continue
			}
			return snap, nil
		}

		if errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTransientNetwork, err)
		}
		lastErr = err
		f.log.WithError(err).WithField("attempt", attempt+1).Warn("snapshot fetch failed")
	}

	return nil, lastErr
}

func validateSnapshot(snap *OrderBookSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: empty response", ErrSnapshotInvalid)
	}
	if snap.SequenceMarker == 0 {
		return fmt.Errorf("%w: missing sequence marker", ErrSnapshotInvalid)
	}
	if snap.Symbol == nil {
		return fmt.Errorf("%w: missing symbol", ErrSnapshotInvalid)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
