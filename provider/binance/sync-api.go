package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

var logger = logrus.WithField("component", "binance")

const (
	defaultSpotWSAPIEndpoint    = "wss://ws-api.binance.com:443/ws-api/v3"
	defaultFuturesWSAPIEndpoint = "wss://ws-fapi.binance.com/ws-fapi/v1"
)

// BinanceSyncAPI fetches depth snapshots over Binance's websocket API, one
// connection per market kind, request/response correlated by id.
type BinanceSyncAPI struct {
	mu    sync.Mutex
	conns map[domain.MarketType]*syncConn
}

type syncConn struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
	in         chan []byte
}

type genericMessage[T any] struct {
	ID     int `json:"id"`
	Status int `json:"status"`
	Result T   `json:"result"`
}

type depthResult struct {
	LastUpdateId uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func NewBinanceSyncAPI() *BinanceSyncAPI {
	return &BinanceSyncAPI{
		conns: make(map[domain.MarketType]*syncConn),
	}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, market domain.MarketType, symbol *domain.MarketSymbol, depth int) (*domain.OrderBookSnapshot, error) {
	conn, err := api.connFor(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	reqID := rand.Intn(1_000_000_000)
	req := map[string]interface{}{
		"id":     reqID,
		"method": "depth",
		"params": map[string]interface{}{
			"symbol": strings.ToUpper(symbol.Join("")),
			"limit":  depth,
		},
	}

	conn.writeMutex.Lock()
	err = conn.conn.WriteJSON(req)
	conn.writeMutex.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	msg, err := conn.waitForResponse(ctx, reqID)
	if err != nil {
		return nil, err
	}

	var response genericMessage[depthResult]
	if err := json.Unmarshal(msg, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	if response.Status == http.StatusTooManyRequests || response.Status == http.StatusTeapot {
		return nil, domain.ErrRateLimited
	}
	if response.Status != 0 && response.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrTransientNetwork, response.Status)
	}

	bids, err := domain.ParsePriceLevels(response.Result.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	asks, err := domain.ParsePriceLevels(response.Result.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}

	return &domain.OrderBookSnapshot{
		Exchange:       "binance",
		Market:         market,
		Symbol:         symbol,
		SequenceMarker: response.Result.LastUpdateId,
		Bids:           bids,
		Asks:           asks,
		CapturedAt:     time.Now(),
	}, nil
}

func (api *BinanceSyncAPI) connFor(market domain.MarketType) (*syncConn, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if conn, ok := api.conns[market]; ok {
		return conn, nil
	}

	endpoint := endpointFor(market)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}
	wsConn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}

	conn := &syncConn{conn: wsConn, in: make(chan []byte)}
	api.conns[market] = conn
	go func() {
		conn.listener()
		api.mu.Lock()
		delete(api.conns, market)
		api.mu.Unlock()
	}()

	logger.Infof("connected binance ws-api, market=%s", market)
	return conn, nil
}

func endpointFor(market domain.MarketType) string {
	if market == domain.MarketFutures {
		if e := os.Getenv("BINANCE_FUTURES_WS_API_ENDPOINT"); e != "" {
			return e
		}
		return defaultFuturesWSAPIEndpoint
	}
	if e := os.Getenv("BINANCE_WS_API_ENDPOINT"); e != "" {
		return e
	}
	return defaultSpotWSAPIEndpoint
}

func (c *syncConn) listener() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Warn("binance ws-api connection closed")
			close(c.in)
			return
		}
		c.in <- message
	}
}

func (c *syncConn) waitForResponse(ctx context.Context, reqID int) ([]byte, error) {
	for {
		select {
		case msg, ok := <-c.in:
			if !ok {
				return nil, fmt.Errorf("%w: connection closed", domain.ErrTransientNetwork)
			}
			var envelope struct {
				ID *int `json:"id"`
			}
			if err := json.Unmarshal(msg, &envelope); err != nil || envelope.ID == nil {
				continue
			}
			if *envelope.ID != reqID {
				continue
			}
			return msg, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, ctx.Err())
		}
	}
}
