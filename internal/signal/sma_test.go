package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
)

func samplesFrom(prices []float64) []core.PriceSample {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]core.PriceSample, len(prices))
	for i, p := range prices {
		out[i] = core.PriceSample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close:     decimal.NewFromFloat(p),
		}
	}
	return out
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(0, 50)
	assert.Error(t, err)

	_, err = NewEngine(50, 20)
	assert.Error(t, err)

	_, err = NewEngine(20, 20)
	assert.Error(t, err)

	e, err := NewEngine(20, 50)
	require.NoError(t, err)
	assert.Equal(t, 51, e.MinSamples())
}

func TestEvaluateInsufficientData(t *testing.T) {
	e, err := NewEngine(2, 5)
	require.NoError(t, err)

	sig, err := e.Evaluate("BTCUSDT", samplesFrom([]float64{100, 101, 102, 103}))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientData)
	assert.Equal(t, core.SignalHold, sig.Type)
}

func TestEvaluateExactSlowWindowHolds(t *testing.T) {
	e, err := NewEngine(2, 5)
	require.NoError(t, err)

	// Five samples allow both averages but leave no previous point to
	// compare against, so no cross can be declared.
	sig, err := e.Evaluate("BTCUSDT", samplesFrom([]float64{100, 100, 100, 100, 110}))
	require.NoError(t, err)
	assert.Equal(t, core.SignalHold, sig.Type)
	assert.True(t, sig.FastSMA.GreaterThan(sig.SlowSMA))
}

func TestEvaluateBuyCross(t *testing.T) {
	e, err := NewEngine(2, 4)
	require.NoError(t, err)

	// Flat then a jump: fast crosses above slow on the final sample.
	prices := []float64{100, 100, 100, 100, 100, 120}
	sig, err := e.Evaluate("BTCUSDT", samplesFrom(prices))
	require.NoError(t, err)
	assert.Equal(t, core.SignalBuy, sig.Type)
}

func TestEvaluateSellCross(t *testing.T) {
	e, err := NewEngine(2, 4)
	require.NoError(t, err)

	prices := []float64{100, 100, 100, 100, 100, 80}
	sig, err := e.Evaluate("ETHUSDT", samplesFrom(prices))
	require.NoError(t, err)
	assert.Equal(t, core.SignalSell, sig.Type)
	assert.Equal(t, "ETHUSDT", sig.Symbol)
}

func TestEvaluateFiresOnceThenHolds(t *testing.T) {
	e, err := NewEngine(2, 4)
	require.NoError(t, err)

	prices := []float64{100, 100, 100, 100, 100, 120, 121, 122}

	sig, err := e.Evaluate("BTCUSDT", samplesFrom(prices[:6]))
	require.NoError(t, err)
	assert.Equal(t, core.SignalBuy, sig.Type)

	// Fast stays above slow afterwards: no new cross, so HOLD.
	sig, err = e.Evaluate("BTCUSDT", samplesFrom(prices[:7]))
	require.NoError(t, err)
	assert.Equal(t, core.SignalHold, sig.Type)

	sig, err = e.Evaluate("BTCUSDT", samplesFrom(prices))
	require.NoError(t, err)
	assert.Equal(t, core.SignalHold, sig.Type)
}

func TestEvaluateEqualityIsNoCross(t *testing.T) {
	e, err := NewEngine(2, 4)
	require.NoError(t, err)

	// Fast rises to exactly the slow average: strict inequality is
	// required, so this must stay HOLD.
	prices := []float64{100, 100, 100, 100, 100, 100}
	sig, err := e.Evaluate("BTCUSDT", samplesFrom(prices))
	require.NoError(t, err)
	assert.Equal(t, core.SignalHold, sig.Type)
	assert.True(t, sig.FastSMA.Equal(sig.SlowSMA))
}
