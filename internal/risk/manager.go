// Package risk gates trade intents behind account and exposure limits.
// Checks run in a fixed order so a rejection always names the first
// violated limit, which keeps alerting and logs deterministic.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"tradebot/internal/core"
)

// Rejection reasons, in check order.
const (
	ReasonHoldSignal     = "hold signal"
	ReasonBalanceTooLow  = "balance too low"
	ReasonDailyLossLimit = "daily loss limit reached"
	ReasonPositionLimit  = "position limit reached"
	ReasonDuplicate      = "duplicate position"
)

// Decision is the outcome of a risk evaluation.
type Decision struct {
	Approved bool
	Reason   string
}

func approved() Decision           { return Decision{Approved: true} }
func rejected(reason string) Decision { return Decision{Reason: reason} }

// Limits configures the manager. Zero MaxDailyLoss disables the loss
// breaker; zero MaxPositions disables the exposure cap.
type Limits struct {
	MinBalance   decimal.Decimal
	MaxDailyLoss decimal.Decimal
	MaxPositions int
}

// ExposureView is the read-only slice of the position tracker the
// manager consults.
type ExposureView interface {
	ActiveCount() int
	HasActive(symbol string) bool
}

// Manager evaluates trade intents against the configured limits. The
// cached balance is refreshed externally by the engine tick loop.
type Manager struct {
	mu       sync.RWMutex
	limits   Limits
	breaker  *DailyLossBreaker
	exposure ExposureView
	balance  decimal.Decimal
	logger   core.ILogger
}

// NewManager wires the manager to its breaker and exposure view.
func NewManager(limits Limits, breaker *DailyLossBreaker, exposure ExposureView, logger core.ILogger) *Manager {
	return &Manager{
		limits:   limits,
		breaker:  breaker,
		exposure: exposure,
		logger:   logger.WithField("component", "risk_manager"),
	}
}

// SetBalance updates the cached account balance.
func (m *Manager) SetBalance(b decimal.Decimal) {
	m.mu.Lock()
	m.balance = b
	m.mu.Unlock()
}

// Balance returns the cached account balance.
func (m *Manager) Balance() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// Breaker exposes the daily loss breaker for state persistence.
func (m *Manager) Breaker() *DailyLossBreaker {
	return m.breaker
}

// Evaluate runs the ordered checks against a BUY or SELL signal and
// returns the first rejection, or approval when all checks pass. The
// evaluation has no side effects: nothing is reserved and passing here
// does not guarantee a later open will succeed.
func (m *Manager) Evaluate(sig core.Signal) Decision {
	if sig.Type == core.SignalHold {
		return rejected(ReasonHoldSignal)
	}

	m.mu.RLock()
	balance := m.balance
	m.mu.RUnlock()

	if balance.LessThan(m.limits.MinBalance) {
		m.logger.Warn("trade rejected",
			"symbol", sig.Symbol,
			"reason", ReasonBalanceTooLow,
			"balance", balance.String(),
			"min_balance", m.limits.MinBalance.String())
		return rejected(ReasonBalanceTooLow)
	}

	if m.breaker.IsTripped() {
		m.logger.Warn("trade rejected",
			"symbol", sig.Symbol,
			"reason", ReasonDailyLossLimit,
			"loss_today", m.breaker.LossToday().String(),
			"limit", m.limits.MaxDailyLoss.String())
		return rejected(ReasonDailyLossLimit)
	}

	if m.limits.MaxPositions > 0 && m.exposure.ActiveCount() >= m.limits.MaxPositions {
		m.logger.Warn("trade rejected",
			"symbol", sig.Symbol,
			"reason", ReasonPositionLimit,
			"max_positions", m.limits.MaxPositions)
		return rejected(ReasonPositionLimit)
	}

	if m.exposure.HasActive(sig.Symbol) {
		m.logger.Warn("trade rejected",
			"symbol", sig.Symbol,
			"reason", ReasonDuplicate)
		return rejected(ReasonDuplicate)
	}

	return approved()
}
