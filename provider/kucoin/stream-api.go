package kucoin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

// level2Model is the /market/level2 wire frame: one sequence range plus the
// changed levels per side, each entry [price, size, sequence].
type level2Model struct {
	SequenceStart uint64 `json:"sequenceStart"`
	SequenceEnd   uint64 `json:"sequenceEnd"`
	Symbol        string `json:"symbol"`
	Changes       struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"changes"`
}

// KucoinStreamAPI runs the sdk websocket client and forwards decoded level2
// deltas to the engine.
type KucoinStreamAPI struct {
	syncAPI *KucoinSyncAPI
	handler domain.InboundHandler

	mu      sync.Mutex
	client  *kucoin.WebSocketClient
	symbols map[string]*domain.MarketSymbol
}

func NewKucoinStreamAPI(syncAPI *KucoinSyncAPI, handler domain.InboundHandler) *KucoinStreamAPI {
	return &KucoinStreamAPI{
		syncAPI: syncAPI,
		handler: handler,
		symbols: make(map[string]*domain.MarketSymbol),
	}
}

func (api *KucoinStreamAPI) Connect() error {
	resp, err := api.syncAPI.ApiService().WebSocketPublicToken()
	if err != nil {
		return fmt.Errorf("failed to get ws token: %w", err)
	}

	token := &kucoin.WebSocketTokenModel{}
	if err := resp.ReadData(token); err != nil {
		return fmt.Errorf("failed to read ws token: %w", err)
	}

	client := api.syncAPI.ApiService().NewWebSocketClient(token)
	messages, errs, err := client.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect kucoin ws: %w", err)
	}
	api.client = client

	go api.read(messages, errs)
	return nil
}

func (api *KucoinStreamAPI) SubscribeDepth(symbol *domain.MarketSymbol) (func(), error) {
	if api.client == nil {
		return nil, fmt.Errorf("kucoin ws connection is not established")
	}

	wire := strings.ToUpper(symbol.Join("-"))
	topic := "/market/level2:" + wire

	api.mu.Lock()
	api.symbols[wire] = symbol
	api.mu.Unlock()

	if err := api.client.Subscribe(kucoin.NewSubscribeMessage(topic, false)); err != nil {
		api.mu.Lock()
		delete(api.symbols, wire)
		api.mu.Unlock()
		return nil, err
	}

	unsubscribe := func() {
		api.mu.Lock()
		delete(api.symbols, wire)
		api.mu.Unlock()
		_ = api.client.Unsubscribe(kucoin.NewUnsubscribeMessage(topic, false))
	}
	return unsubscribe, nil
}

func (api *KucoinStreamAPI) read(messages <-chan *kucoin.WebSocketDownstreamMessage, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			logger.WithError(err).Warn("kucoin ws error")
			return
		case m := <-messages:
			if m == nil || !strings.HasPrefix(m.Topic, "/market/level2:") {
				continue
			}
			api.dispatch(m.RawData)
		}
	}
}

func (api *KucoinStreamAPI) dispatch(raw json.RawMessage) {
	var data level2Model
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.WithError(err).Warn("dropped undecodable level2 frame")
		return
	}

	api.mu.Lock()
	symbol, ok := api.symbols[data.Symbol]
	api.mu.Unlock()
	if !ok {
		return
	}

	bids, err := parseChanges(data.Changes.Bids)
	if err != nil {
		logger.WithError(err).Warn("dropped undecodable level2 frame")
		return
	}
	asks, err := parseChanges(data.Changes.Asks)
	if err != nil {
		logger.WithError(err).Warn("dropped undecodable level2 frame")
		return
	}

	_ = api.handler("kucoin", domain.MarketSpot, symbol, &domain.InboundMessage{
		Kind: domain.KindDelta,
		Delta: &domain.OrderBookDelta{
			Exchange:   "kucoin",
			Market:     domain.MarketSpot,
			Symbol:     symbol,
			RangeStart: data.SequenceStart,
			RangeEnd:   data.SequenceEnd,
			Bids:       bids,
			Asks:       asks,
			ReceivedAt: time.Now(),
		},
	})
}

// parseChanges strips the trailing per-level sequence field KuCoin appends
// to each [price, size, sequence] entry.
func parseChanges(raw [][]string) ([]domain.PriceLevel, error) {
	trimmed := make([][]string, len(raw))
	for i, entry := range raw {
		if len(entry) > 2 {
			entry = entry[:2]
		}
		trimmed[i] = entry
	}
	return domain.ParsePriceLevels(trimmed)
}
