// Package signal computes moving-average crossover signals from price
// history. The engine is pure: it holds no market state between calls and
// never looks ahead of the evaluation timestamp.
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
)

// Engine detects strict crossovers between a fast and a slow simple
// moving average.
type Engine struct {
	fastPeriod int
	slowPeriod int
}

// NewEngine creates a crossover engine. fast must be shorter than slow.
func NewEngine(fast, slow int) (*Engine, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("sma periods must be positive (fast=%d slow=%d)", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be shorter than slow period %d", fast, slow)
	}
	return &Engine{fastPeriod: fast, slowPeriod: slow}, nil
}

// MinSamples is the history length needed to detect a cross: the slow
// window plus one sample for the previous evaluation point.
func (e *Engine) MinSamples() int {
	return e.slowPeriod + 1
}

// Evaluate computes both SMAs over the trailing window of samples and
// reports a BUY on a strict upward cross of fast over slow, a SELL on
// the strict downward cross, and HOLD otherwise. Exact equality between
// the averages counts as no cross. With fewer samples than the slow
// period it returns HOLD together with ErrInsufficientData.
func (e *Engine) Evaluate(symbol string, samples []core.PriceSample) (core.Signal, error) {
	n := len(samples)
	sig := core.Signal{Symbol: symbol, Type: core.SignalHold}
	if n > 0 {
		sig.At = samples[n-1].Timestamp
	}

	if n < e.slowPeriod {
		return sig, fmt.Errorf("%w: have %d samples, need %d", apperrors.ErrInsufficientData, n, e.slowPeriod)
	}

	sig.FastSMA = trailingMean(samples, n, e.fastPeriod)
	sig.SlowSMA = trailingMean(samples, n, e.slowPeriod)

	// A cross needs the previous evaluation point as well.
	if n < e.slowPeriod+1 {
		return sig, nil
	}

	fastPrev := trailingMean(samples, n-1, e.fastPeriod)
	slowPrev := trailingMean(samples, n-1, e.slowPeriod)

	switch {
	case fastPrev.LessThanOrEqual(slowPrev) && sig.FastSMA.GreaterThan(sig.SlowSMA):
		sig.Type = core.SignalBuy
	case fastPrev.GreaterThanOrEqual(slowPrev) && sig.FastSMA.LessThan(sig.SlowSMA):
		sig.Type = core.SignalSell
	}

	return sig, nil
}

// trailingMean is the arithmetic mean of the period closes ending at
// samples[end-1].
func trailingMean(samples []core.PriceSample, end, period int) decimal.Decimal {
	sum := decimal.Zero
	for i := end - period; i < end; i++ {
		sum = sum.Add(samples[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
