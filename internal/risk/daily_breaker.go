package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/pkg/telemetry"
)

// DailyLossBreaker accumulates realized losses for the current trading
// day and trips when they reach the configured limit. Profitable closes
// never reduce the accumulator. The day boundary follows the configured
// location via lazy rollover: the window resets the first time the
// breaker is consulted on a new calendar day.
type DailyLossBreaker struct {
	mu    sync.Mutex
	limit decimal.Decimal
	loc   *time.Location

	lossToday decimal.Decimal
	day       string

	now func() time.Time
}

// NewDailyLossBreaker creates a breaker with the given loss limit in
// quote currency. A zero or negative limit disables tripping. loc may
// be nil for UTC.
func NewDailyLossBreaker(limit decimal.Decimal, loc *time.Location) *DailyLossBreaker {
	if loc == nil {
		loc = time.UTC
	}
	b := &DailyLossBreaker{
		limit: limit,
		loc:   loc,
		now:   time.Now,
	}
	b.day = b.now().In(b.loc).Format("2006-01-02")
	return b
}

// RecordClose feeds the realized PnL of a closed position into the
// accumulator. Only losses count; pnl >= 0 leaves the total unchanged.
func (b *DailyLossBreaker) RecordClose(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	if pnl.IsNegative() {
		b.lossToday = b.lossToday.Add(pnl.Neg())
	}
	b.publish()
}

// IsTripped reports whether today's accumulated losses have reached the
// limit.
func (b *DailyLossBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.tripped()
}

// LossToday returns the accumulated loss for the current day.
func (b *DailyLossBreaker) LossToday() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.lossToday
}

// CurrentDay returns the day the accumulator is tracking, formatted as
// YYYY-MM-DD in the breaker's location.
func (b *DailyLossBreaker) CurrentDay() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.day
}

// Restore rehydrates the accumulator from a persisted snapshot. A
// snapshot from a previous day is discarded so a restart never carries
// stale losses forward.
func (b *DailyLossBreaker) Restore(day string, loss decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	today := b.now().In(b.loc).Format("2006-01-02")
	if day == today {
		b.day = day
		b.lossToday = loss
	} else {
		b.day = today
		b.lossToday = decimal.Zero
	}
	b.publish()
}

func (b *DailyLossBreaker) rollover() {
	today := b.now().In(b.loc).Format("2006-01-02")
	if today != b.day {
		b.day = today
		b.lossToday = decimal.Zero
		b.publish()
	}
}

func (b *DailyLossBreaker) tripped() bool {
	return b.limit.IsPositive() && b.lossToday.GreaterThanOrEqual(b.limit)
}

func (b *DailyLossBreaker) publish() {
	loss, _ := b.lossToday.Float64()
	telemetry.GetGlobalMetrics().SetDailyLoss(loss)
	telemetry.GetGlobalMetrics().SetLossLimitReached(b.tripped())
}
