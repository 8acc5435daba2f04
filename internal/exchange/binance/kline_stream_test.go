package binance

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/mock"
)

func klineEvent(symbol string, closeMs int64, close string, final bool) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"kline","s":"%s","k":{"T":%d,"c":"%s","x":%t}}`,
		symbol, closeMs, close, final))
}

func TestKlineStreamCachesFinalCandles(t *testing.T) {
	fallback := mock.NewMarketData()
	s := NewKlineStream("ws://unused", []string{"BTCUSDT"}, "1m", fallback, mock.NopLogger{})

	s.handleMessage(klineEvent("BTCUSDT", 1000, "100.5", true))
	s.handleMessage(klineEvent("BTCUSDT", 2000, "101.0", false)) // in-progress, skipped
	s.handleMessage(klineEvent("BTCUSDT", 2000, "101.5", true))

	assert.Equal(t, 2, s.CachedDepth("BTCUSDT"))

	samples, err := s.GetRecentPrices(context.Background(), "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[1].Close.Equal(decimal.NewFromFloat(101.5)))
}

func TestKlineStreamIgnoresReplayedCandles(t *testing.T) {
	s := NewKlineStream("ws://unused", []string{"BTCUSDT"}, "1m", mock.NewMarketData(), mock.NopLogger{})

	s.handleMessage(klineEvent("BTCUSDT", 2000, "101.5", true))
	s.handleMessage(klineEvent("BTCUSDT", 2000, "101.5", true))
	s.handleMessage(klineEvent("BTCUSDT", 1000, "100.5", true))

	assert.Equal(t, 1, s.CachedDepth("BTCUSDT"))
}

func TestKlineStreamFallsBackWhenCold(t *testing.T) {
	fallback := mock.NewMarketData()
	fallback.SetSeries("BTCUSDT", []float64{100, 101, 102})

	s := NewKlineStream("ws://unused", []string{"BTCUSDT"}, "1m", fallback, mock.NopLogger{})

	samples, err := s.GetRecentPrices(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	assert.Len(t, samples, 3)

	// The REST result seeds the cache for subsequent calls.
	assert.Equal(t, 3, s.CachedDepth("BTCUSDT"))
}
