package usecase

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

var logger = logrus.WithField("component", "orderbook-snapshot-usecase")

// StreamSubscriber starts the transport-side depth stream for a book.
type StreamSubscriber interface {
	SubscribeDepth(provider string, market domain.MarketType, symbol *domain.MarketSymbol) error
}

// OrderBookSnapshotUseCase serves book snapshots: from the live local book
// when it is synced, falling back to a direct provider fetch while the local
// book is still initializing.
type OrderBookSnapshotUseCase struct {
	manager  *domain.OrderBookManager
	streams  StreamSubscriber
	fetchers map[string]*domain.SnapshotFetcher
}

func NewOrderBookSnapshotUseCase(
	manager *domain.OrderBookManager,
	streams StreamSubscriber,
	fetchers map[string]*domain.SnapshotFetcher,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		manager:  manager,
		streams:  streams,
		fetchers: fetchers,
	}
}

// GetOrderBookSnapshot returns the book snapshot from the local book or,
// while it is initializing, from the provider API.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, provider string, market domain.MarketType, symbol *domain.MarketSymbol, depth int,
) (*domain.OrderBookSnapshot, error) {
	snap, err := o.manager.LocalSnapshot(provider, market, symbol, depth)
	if err == nil {
		return snap, nil
	}

	if errors.Is(err, domain.ErrUnknownRoutingKey) {
		go o.createBook(provider, market, symbol)
	} else if !errors.Is(err, domain.ErrBookNotSynced) {
		return nil, err
	}

	fetcher, ok := o.fetchers[provider]
	if !ok {
		return nil, domain.ErrUnknownExchange
	}
	logger.Infof("local book is initializing, provider snapshot returned: Provider=%s, Symbol=%s", provider, symbol.String())
	return fetcher.Fetch(ctx, market, symbol)
}

// createBook wires a new book end to end: stream subscription first so no
// deltas are missed, then the sync state that buffers them while its first
// snapshot is fetched.
func (o *OrderBookSnapshotUseCase) createBook(provider string, market domain.MarketType, symbol *domain.MarketSymbol) {
	if err := o.streams.SubscribeDepth(provider, market, symbol); err != nil {
		logger.WithError(err).Errorf("failed to subscribe depth stream: Provider=%s, Symbol=%s", provider, symbol.String())
		return
	}
	if err := o.manager.Subscribe(provider, market, symbol); err != nil {
		logger.WithError(err).Errorf("failed to register book: Provider=%s, Symbol=%s", provider, symbol.String())
		return
	}
	logger.Infof("order book added to the runtime set: Provider=%s, Symbol=%s", provider, symbol.String())
}
