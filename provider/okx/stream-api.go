package okx

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/recws-org/recws"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

const defaultPublicWSEndpoint = "wss://ws.okx.com:8443/ws/v5/public"

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type booksEvent struct {
	Arg    wsArg  `json:"arg"`
	Action string `json:"action"` // "snapshot" or "update"
	Data   []struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		Ts        string     `json:"ts"`
		Checksum  int32      `json:"checksum"`
		SeqID     uint64     `json:"seqId"`
		PrevSeqID int64      `json:"prevSeqId"` // -1 on snapshots
	} `json:"data"`
}

// OKXStreamAPI maintains the public websocket, subscribes books channels and
// decodes both the in-band snapshots and the checksum-linked updates.
type OKXStreamAPI struct {
	conn    *recws.RecConn
	handler domain.InboundHandler

	mu     sync.Mutex
	topics map[string]topicBinding
}

type topicBinding struct {
	market domain.MarketType
	symbol *domain.MarketSymbol
}

func NewOKXStreamAPI(handler domain.InboundHandler) *OKXStreamAPI {
	return &OKXStreamAPI{
		handler: handler,
		topics:  make(map[string]topicBinding),
	}
}

func (api *OKXStreamAPI) Connect() error {
	endpoint := os.Getenv("OKX_WS_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultPublicWSEndpoint
	}

	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: 25 * time.Second,
	}
	conn.Dial(endpoint, nil)
	api.conn = conn

	go api.read()
	return nil
}

// SubscribeBooks subscribes the books channel for a symbol. The first
// message OKX sends is a full snapshot; later ones are linked updates.
func (api *OKXStreamAPI) SubscribeBooks(market domain.MarketType, symbol *domain.MarketSymbol) (func(), error) {
	id := instID(symbol, market)

	api.mu.Lock()
	api.topics[id] = topicBinding{market: market, symbol: symbol}
	api.mu.Unlock()

	err := api.conn.WriteJSON(&wsRequest{
		Op:   "subscribe",
		Args: []wsArg{{Channel: "books", InstID: id}},
	})
	if err != nil {
		api.mu.Lock()
		delete(api.topics, id)
		api.mu.Unlock()
		return nil, err
	}

	unsubscribe := func() {
		api.mu.Lock()
		delete(api.topics, id)
		api.mu.Unlock()
		_ = api.conn.WriteJSON(&wsRequest{
			Op:   "unsubscribe",
			Args: []wsArg{{Channel: "books", InstID: id}},
		})
	}
	return unsubscribe, nil
}

func (api *OKXStreamAPI) read() {
	for {
		_, message, err := api.conn.ReadMessage()
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		var event booksEvent
		if err := json.Unmarshal(message, &event); err != nil || event.Arg.Channel != "books" {
			continue
		}

		api.mu.Lock()
		binding, ok := api.topics[event.Arg.InstID]
		api.mu.Unlock()
		if !ok {
			continue
		}

		api.dispatch(binding, &event)
	}
}

func (api *OKXStreamAPI) dispatch(binding topicBinding, event *booksEvent) {
	for i := range event.Data {
		data := &event.Data[i]

		bids, err := domain.ParsePriceLevels(data.Bids)
		if err != nil {
			logger.WithError(err).Warn("dropped undecodable books frame")
			continue
		}
		asks, err := domain.ParsePriceLevels(data.Asks)
		if err != nil {
			logger.WithError(err).Warn("dropped undecodable books frame")
			continue
		}

		var msg *domain.InboundMessage
		if event.Action == "snapshot" {
			msg = &domain.InboundMessage{
				Kind: domain.KindSnapshot,
				Snapshot: &domain.OrderBookSnapshot{
					Exchange:       "okx",
					Market:         binding.market,
					Symbol:         binding.symbol,
					SequenceMarker: seqMarker(data.SeqID, data.Ts),
					Bids:           bids,
					Asks:           asks,
					Checksum:       data.Checksum,
					HasChecksum:    true,
					CapturedAt:     time.Now(),
				},
			}
		} else {
			delta := &domain.OrderBookDelta{
				Exchange:    "okx",
				Market:      binding.market,
				Symbol:      binding.symbol,
				RangeStart:  data.SeqID,
				RangeEnd:    data.SeqID,
				Checksum:    data.Checksum,
				HasChecksum: true,
				Bids:        bids,
				Asks:        asks,
				ReceivedAt:  time.Now(),
			}
			if data.PrevSeqID >= 0 {
				delta.LinkMarker = uint64(data.PrevSeqID)
				delta.HasLink = true
			}
			msg = &domain.InboundMessage{Kind: domain.KindDelta, Delta: delta}
		}

		_ = api.handler("okx", binding.market, binding.symbol, msg)
	}
}

func seqMarker(seqID uint64, ts string) uint64 {
	if seqID != 0 {
		return seqID
	}
	parsed, _ := strconv.ParseUint(ts, 10, 64)
	return parsed
}

func (api *OKXStreamAPI) Close() {
	if api.conn != nil {
		api.conn.Close()
	}
}
