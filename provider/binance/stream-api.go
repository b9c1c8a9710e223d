package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

// depthUpdateData is the diff-depth wire frame. Futures adds pu, the final
// update id of the previous event.
type depthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId uint64     `json:"U"`
	FinalUpdateId uint64     `json:"u"`
	PrevFinalId   *uint64    `json:"pu,omitempty"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// BinanceStreamAPI decodes diff-depth frames into deltas and forwards them
// to the engine's inbound handler.
type BinanceStreamAPI struct {
	client  *BinanceStreamClient
	market  domain.MarketType
	handler domain.InboundHandler
}

func NewBinanceStreamAPI(client *BinanceStreamClient, market domain.MarketType, handler domain.InboundHandler) *BinanceStreamAPI {
	return &BinanceStreamAPI{
		client:  client,
		market:  market,
		handler: handler,
	}
}

func (api *BinanceStreamAPI) Client() *BinanceStreamClient {
	return api.client
}

// SubscribeDepth starts the diff-depth stream for a symbol and pumps decoded
// deltas into the handler until unsubscribed.
func (api *BinanceStreamAPI) SubscribeDepth(symbol *domain.MarketSymbol) (func(), error) {
	topic := fmt.Sprintf("%s@depth", symbol.Join(""))
	subscription, err := api.client.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	go func() {
		for raw := range subscription.Stream {
			delta, err := api.decode(symbol, raw)
			if err != nil {
				logger.WithError(err).WithField("topic", topic).Warn("dropped undecodable depth frame")
				continue
			}
			_ = api.handler("binance", api.market, symbol, &domain.InboundMessage{
				Kind:  domain.KindDelta,
				Delta: delta,
			})
		}
	}()

	return subscription.Unsubscribe, nil
}

func (api *BinanceStreamAPI) decode(symbol *domain.MarketSymbol, raw []byte) (*domain.OrderBookDelta, error) {
	var data depthUpdateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, err
	}

	delta := &domain.OrderBookDelta{
		Exchange:   "binance",
		Market:     api.market,
		Symbol:     symbol,
		RangeStart: data.FirstUpdateId,
		RangeEnd:   data.FinalUpdateId,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: time.Now(),
	}
	if data.PrevFinalId != nil {
		delta.LinkMarker = *data.PrevFinalId
		delta.HasLink = true
	}
	return delta, nil
}
