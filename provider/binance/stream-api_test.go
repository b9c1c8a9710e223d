package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MNS-Vic/marketprism-sub020/domain"
)

func TestDecodeDepthUpdate_Spot(t *testing.T) {
	api := NewBinanceStreamAPI(nil, domain.MarketSpot, nil)
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	raw := []byte(`{
		"e": "depthUpdate", "E": 123456789, "s": "BTCUSDT",
		"U": 157, "u": 160,
		"b": [["0.0024", "10"]],
		"a": [["0.0026", "100"], ["0.0027", "0"]]
	}`)

	delta, err := api.decode(symbol, raw)
	require.NoError(t, err)

	assert.Equal(t, "binance", delta.Exchange)
	assert.Equal(t, uint64(157), delta.RangeStart)
	assert.Equal(t, uint64(160), delta.RangeEnd)
	assert.False(t, delta.HasLink, "spot frames carry no pu")
	require.Len(t, delta.Bids, 1)
	assert.Equal(t, "0.0024", delta.Bids[0].Price.String())
	require.Len(t, delta.Asks, 2)
	assert.True(t, delta.Asks[1].Quantity.IsZero())
}

func TestDecodeDepthUpdate_FuturesLink(t *testing.T) {
	api := NewBinanceStreamAPI(nil, domain.MarketFutures, nil)
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	raw := []byte(`{
		"e": "depthUpdate", "E": 123456789, "s": "BTCUSDT",
		"U": 157, "u": 160, "pu": 156,
		"b": [], "a": []
	}`)

	delta, err := api.decode(symbol, raw)
	require.NoError(t, err)

	assert.True(t, delta.HasLink)
	assert.Equal(t, uint64(156), delta.LinkMarker)
	assert.Equal(t, domain.MarketFutures, delta.Market)
}

func TestDecodeDepthUpdate_MalformedLevels(t *testing.T) {
	api := NewBinanceStreamAPI(nil, domain.MarketSpot, nil)
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	_, err = api.decode(symbol, []byte(`{"U": 1, "u": 2, "b": [["oops", "1"]], "a": []}`))
	assert.Error(t, err, "a partially decodable frame must be rejected whole")
}
