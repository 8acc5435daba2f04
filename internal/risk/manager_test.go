package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradebot/internal/core"
	"tradebot/internal/mock"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func buySignal(symbol string) core.Signal {
	return core.Signal{Symbol: symbol, Type: core.SignalBuy, At: time.Now()}
}

func newTestManager(exposure ExposureView, breaker *DailyLossBreaker) *Manager {
	if breaker == nil {
		breaker = NewDailyLossBreaker(dec(100), time.UTC)
	}
	limits := Limits{
		MinBalance:   dec(50),
		MaxDailyLoss: dec(100),
		MaxPositions: 3,
	}
	m := NewManager(limits, breaker, exposure, mock.NopLogger{})
	m.SetBalance(dec(1000))
	return m
}

func TestEvaluateApproves(t *testing.T) {
	m := newTestManager(&mock.Exposure{}, nil)
	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.True(t, d.Approved)
	assert.Empty(t, d.Reason)
}

func TestEvaluateHoldNeverApproved(t *testing.T) {
	m := newTestManager(&mock.Exposure{}, nil)
	d := m.Evaluate(core.Signal{Symbol: "BTCUSDT", Type: core.SignalHold})
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonHoldSignal, d.Reason)
}

func TestEvaluateBalanceTooLow(t *testing.T) {
	m := newTestManager(&mock.Exposure{}, nil)
	m.SetBalance(dec(49.99))
	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonBalanceTooLow, d.Reason)
}

func TestEvaluateDailyLossLimit(t *testing.T) {
	breaker := NewDailyLossBreaker(dec(100), time.UTC)
	breaker.RecordClose(dec(-100))
	m := newTestManager(&mock.Exposure{}, breaker)

	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDailyLossLimit, d.Reason)
}

func TestEvaluatePositionLimit(t *testing.T) {
	m := newTestManager(&mock.Exposure{Count: 3}, nil)
	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonPositionLimit, d.Reason)
}

func TestEvaluateDuplicate(t *testing.T) {
	m := newTestManager(&mock.Exposure{Count: 1, Symbols: map[string]bool{"BTCUSDT": true}}, nil)

	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDuplicate, d.Reason)

	// Another symbol is unaffected by the duplicate check.
	d = m.Evaluate(buySignal("ETHUSDT"))
	assert.True(t, d.Approved)
}

func TestEvaluateReportsFirstViolation(t *testing.T) {
	// All limits violated at once: balance is checked first.
	breaker := NewDailyLossBreaker(dec(100), time.UTC)
	breaker.RecordClose(dec(-500))
	m := newTestManager(&mock.Exposure{Count: 5, Symbols: map[string]bool{"BTCUSDT": true}}, breaker)
	m.SetBalance(decimal.Zero)

	d := m.Evaluate(buySignal("BTCUSDT"))
	assert.Equal(t, ReasonBalanceTooLow, d.Reason)
}

func TestBreakerLossesOnly(t *testing.T) {
	b := NewDailyLossBreaker(dec(100), time.UTC)

	b.RecordClose(dec(500)) // profit, ignored
	assert.True(t, b.LossToday().IsZero())

	b.RecordClose(dec(-60))
	assert.False(t, b.IsTripped())

	b.RecordClose(dec(200)) // profit never offsets losses
	assert.True(t, b.LossToday().Equal(dec(60)))

	b.RecordClose(dec(-40))
	assert.True(t, b.IsTripped())
}

func TestBreakerDayRollover(t *testing.T) {
	b := NewDailyLossBreaker(dec(100), time.UTC)
	current := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	b.day = "2025-03-01"

	b.RecordClose(dec(-150))
	assert.True(t, b.IsTripped())

	// Crossing midnight resets the accumulator lazily.
	current = time.Date(2025, 3, 2, 0, 1, 0, 0, time.UTC)
	assert.False(t, b.IsTripped())
	assert.True(t, b.LossToday().IsZero())
	assert.Equal(t, "2025-03-02", b.CurrentDay())
}

func TestBreakerRestoreDiscardsStaleDay(t *testing.T) {
	b := NewDailyLossBreaker(dec(100), time.UTC)
	current := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	b.Restore("2025-03-01", dec(99))
	assert.True(t, b.LossToday().IsZero())

	b.Restore("2025-03-02", dec(99))
	assert.True(t, b.LossToday().Equal(dec(99)))
}

func TestBreakerDisabledWithZeroLimit(t *testing.T) {
	b := NewDailyLossBreaker(decimal.Zero, time.UTC)
	b.RecordClose(dec(-1000000))
	assert.False(t, b.IsTripped())
}
