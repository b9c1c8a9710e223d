package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/recws-org/recws"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

const (
	defaultSpotStreamEndpoint    = "wss://stream.binance.com:9443/stream"
	defaultFuturesStreamEndpoint = "wss://fstream.binance.com/stream"
	keepAliveTimeout             = 9 * time.Minute
)

type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamRequest struct {
	ReqID  int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

// BinanceStreamClient multiplexes combined-stream topics over one
// auto-reconnecting connection per market kind.
type BinanceStreamClient struct {
	market        domain.MarketType
	conn          *recws.RecConn
	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry
}

func NewBinanceStreamClient(market domain.MarketType) *BinanceStreamClient {
	return &BinanceStreamClient{
		market:        market,
		subscriptions: make(map[string]*subscriptionEntry),
	}
}

func (c *BinanceStreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: keepAliveTimeout,
	}
	conn.Dial(c.endpoint(), nil)
	c.conn = conn

	go c.read()
	return nil
}

func (c *BinanceStreamClient) endpoint() string {
	if c.market == domain.MarketFutures {
		if e := os.Getenv("BINANCE_FUTURES_STREAM_ENDPOINT"); e != "" {
			return e
		}
		return defaultFuturesStreamEndpoint
	}
	if e := os.Getenv("BINANCE_STREAM_ENDPOINT"); e != "" {
		return e
	}
	return defaultSpotStreamEndpoint
}

func (c *BinanceStreamClient) Subscribe(topic string) (*domain.Subscription[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, fmt.Errorf("binance stream connection is not established")
	}

	entry, ok := c.subscriptions[topic]
	if !ok {
		entry = &subscriptionEntry{ch: make(chan []byte, 256)}
		c.subscriptions[topic] = entry

		err := c.conn.WriteJSON(&streamRequest{
			ReqID:  rand.Intn(1_000_000_000),
			Method: "SUBSCRIBE",
			Params: []string{topic},
		})
		if err != nil {
			delete(c.subscriptions, topic)
			return nil, err
		}
	}
	entry.subscriberCount++

	return &domain.Subscription[[]byte]{
		Stream:      entry.ch,
		Topic:       topic,
		Unsubscribe: func() { c.unsubscribe(topic) },
	}, nil
}

func (c *BinanceStreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	entry.subscriberCount--
	if entry.subscriberCount > 0 {
		return
	}

	_ = c.conn.WriteJSON(&streamRequest{
		ReqID:  rand.Intn(1_000_000_000),
		Method: "UNSUBSCRIBE",
		Params: []string{topic},
	})
	close(entry.ch)
	delete(c.subscriptions, topic)
}

func (c *BinanceStreamClient) read() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// recws redials on its own; just skip the broken frame.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		var envelope streamMessage
		if err := json.Unmarshal(message, &envelope); err != nil || envelope.Stream == "" {
			continue
		}

		c.mu.Lock()
		entry, ok := c.subscriptions[envelope.Stream]
		c.mu.Unlock()
		if !ok {
			continue
		}

		select {
		case entry.ch <- envelope.Data:
		default:
			logger.WithField("topic", envelope.Stream).Warn("stream subscriber is slow, frame dropped")
		}
	}
}

func (c *BinanceStreamClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
