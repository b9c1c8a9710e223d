package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

var logger = logrus.WithField("component", "okx")

const defaultRESTBaseURL = "https://www.okx.com"

// OKXSyncAPI fetches depth snapshots over plain REST; OKX has no
// request/response depth call on its websocket API. Used for the forced
// periodic refresh; the regular resync path reseeds from the books channel,
// which re-sends a full snapshot on subscription.
type OKXSyncAPI struct {
	baseURL string
	client  *http.Client
}

type booksResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Bids  [][]string `json:"bids"`
		Asks  [][]string `json:"asks"`
		Ts    string     `json:"ts"`
		SeqID uint64     `json:"seqId"`
	} `json:"data"`
}

func NewOKXSyncAPI() *OKXSyncAPI {
	baseURL := os.Getenv("OKX_REST_BASE_URL")
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}
	return &OKXSyncAPI{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (api *OKXSyncAPI) OrderBookSnapshot(ctx context.Context, market domain.MarketType, symbol *domain.MarketSymbol, depth int) (*domain.OrderBookSnapshot, error) {
	if depth > 400 {
		// /market/books caps sz at 400.
		depth = 400
	}
	url := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=%d", api.baseURL, instID(symbol, market), depth)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	resp, err := api.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", domain.ErrTransientNetwork, resp.StatusCode)
	}

	var body booksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	if body.Code != "0" || len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: code=%s msg=%s", domain.ErrSnapshotInvalid, body.Code, body.Msg)
	}

	data := body.Data[0]
	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}

	marker := data.SeqID
	if marker == 0 {
		// Older gateways omit seqId on REST; the timestamp keeps the
		// marker monotonic until the stream reseeds with a real one.
		if ts, err := strconv.ParseUint(data.Ts, 10, 64); err == nil {
			marker = ts
		}
	}

	return &domain.OrderBookSnapshot{
		Exchange:       "okx",
		Market:         market,
		Symbol:         symbol,
		SequenceMarker: marker,
		Bids:           bids,
		Asks:           asks,
		CapturedAt:     time.Now(),
	}, nil
}

// instID renders the OKX instrument id: BTC-USDT spot, BTC-USDT-SWAP for
// perpetual futures.
func instID(symbol *domain.MarketSymbol, market domain.MarketType) string {
	id := strings.ToUpper(symbol.Join("-"))
	if market == domain.MarketFutures {
		id += "-SWAP"
	}
	return id
}
