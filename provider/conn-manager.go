package provider

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
	"github.com/MNS-Vic/marketprism-sub020/provider/binance"
	"github.com/MNS-Vic/marketprism-sub020/provider/kucoin"
	"github.com/MNS-Vic/marketprism-sub020/provider/okx"
)

var logger = logrus.WithField("component", "conn-manager")

// ConnectionManager owns every exchange adapter: the sync APIs the snapshot
// fetchers wrap and the stream APIs that feed decoded messages into the
// engine. Constructed once per process with the engine's inbound handler.
type ConnectionManager struct {
	handler domain.InboundHandler

	BinanceSyncAPI       *binance.BinanceSyncAPI
	binanceSpotStream    *binance.BinanceStreamAPI
	binanceFuturesStream *binance.BinanceStreamAPI

	OKXSyncAPI   *okx.OKXSyncAPI
	okxStreamAPI *okx.OKXStreamAPI

	KucoinSyncAPI   *kucoin.KucoinSyncAPI
	kucoinStreamAPI *kucoin.KucoinStreamAPI

	mu           sync.Mutex
	unsubscribes map[domain.BookKey]func()
}

func NewConnectionManager(handler domain.InboundHandler) *ConnectionManager {
	binanceSync := binance.NewBinanceSyncAPI()
	okxSync := okx.NewOKXSyncAPI()
	kucoinSync := kucoin.NewKucoinSyncAPI()

	spotClient := binance.NewBinanceStreamClient(domain.MarketSpot)
	futuresClient := binance.NewBinanceStreamClient(domain.MarketFutures)

	return &ConnectionManager{
		handler: handler,

		BinanceSyncAPI:       binanceSync,
		binanceSpotStream:    binance.NewBinanceStreamAPI(spotClient, domain.MarketSpot, handler),
		binanceFuturesStream: binance.NewBinanceStreamAPI(futuresClient, domain.MarketFutures, handler),

		OKXSyncAPI:   okxSync,
		okxStreamAPI: okx.NewOKXStreamAPI(handler),

		KucoinSyncAPI:   kucoinSync,
		kucoinStreamAPI: kucoin.NewKucoinStreamAPI(kucoinSync, handler),

		unsubscribes: make(map[domain.BookKey]func()),
	}
}

// Init dials every stream transport. Individual failures are logged, not
// fatal: books on the failed exchange just stay unsynced until it recovers.
func (cm *ConnectionManager) Init() {
	if err := cm.binanceSpotStream.Client().Connect(); err != nil {
		logger.WithError(err).Error("failed to connect binance spot stream")
	}
	if err := cm.binanceFuturesStream.Client().Connect(); err != nil {
		logger.WithError(err).Error("failed to connect binance futures stream")
	}
	if err := cm.okxStreamAPI.Connect(); err != nil {
		logger.WithError(err).Error("failed to connect okx stream")
	}
	if err := cm.kucoinStreamAPI.Connect(); err != nil {
		logger.WithError(err).Error("failed to connect kucoin stream")
	}
}

// SyncAPI resolves the snapshot source for an exchange.
func (cm *ConnectionManager) SyncAPI(provider string) (domain.ProviderSyncAPI, error) {
	switch provider {
	case "binance":
		return cm.BinanceSyncAPI, nil
	case "okx":
		return cm.OKXSyncAPI, nil
	case "kucoin":
		return cm.KucoinSyncAPI, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownExchange, provider)
}

// SubscribeDepth starts the depth stream for one book.
func (cm *ConnectionManager) SubscribeDepth(provider string, market domain.MarketType, symbol *domain.MarketSymbol) error {
	key := domain.NewBookKey(provider, market, symbol)
	cm.mu.Lock()
	_, exists := cm.unsubscribes[key]
	cm.mu.Unlock()
	if exists {
		return nil
	}

	var unsubscribe func()
	var err error
	switch provider {
	case "binance":
		stream := cm.binanceSpotStream
		if market == domain.MarketFutures {
			stream = cm.binanceFuturesStream
		}
		unsubscribe, err = stream.SubscribeDepth(symbol)
	case "okx":
		unsubscribe, err = cm.okxStreamAPI.SubscribeBooks(market, symbol)
	case "kucoin":
		unsubscribe, err = cm.kucoinStreamAPI.SubscribeDepth(symbol)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownExchange, provider)
	}
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.unsubscribes[key] = unsubscribe
	cm.mu.Unlock()
	return nil
}

// UnsubscribeDepth stops the depth stream for one book.
func (cm *ConnectionManager) UnsubscribeDepth(provider string, market domain.MarketType, symbol *domain.MarketSymbol) {
	key := domain.NewBookKey(provider, market, symbol)
	cm.mu.Lock()
	unsubscribe, ok := cm.unsubscribes[key]
	delete(cm.unsubscribes, key)
	cm.mu.Unlock()
	if ok {
		unsubscribe()
	}
}
