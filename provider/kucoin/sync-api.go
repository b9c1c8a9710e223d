package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

var logger = logrus.WithField("component", "kucoin")

// KucoinSyncAPI fetches full aggregated books through the official sdk.
type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
}

type fullOrderBookModel struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func NewKucoinSyncAPI() *KucoinSyncAPI {
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
			kucoin.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
			kucoin.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
		),
	}
}

func (api *KucoinSyncAPI) ApiService() *kucoin.ApiService {
	return api.apiService
}

func (api *KucoinSyncAPI) OrderBookSnapshot(ctx context.Context, market domain.MarketType, symbol *domain.MarketSymbol, depth int) (*domain.OrderBookSnapshot, error) {
	if market != domain.MarketSpot {
		return nil, fmt.Errorf("%w: kucoin adapter only handles spot", domain.ErrUnknownExchange)
	}

	resp, err := api.apiService.AggregatedFullOrderBookV3(strings.ToUpper(symbol.Join("-")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}
	if resp.Code == "429000" {
		return nil, domain.ErrRateLimited
	}

	data := &fullOrderBookModel{}
	if err := json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}

	sequence, err := strconv.ParseUint(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad sequence %q", domain.ErrSnapshotInvalid, data.Sequence)
	}

	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}

	return &domain.OrderBookSnapshot{
		Exchange:       "kucoin",
		Market:         market,
		Symbol:         symbol,
		SequenceMarker: sequence,
		Bids:           bids,
		Asks:           asks,
		CapturedAt:     time.Now(),
	}, nil
}
