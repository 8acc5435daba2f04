package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal      = "tradebot_signals_total"
	MetricTradesOpenedTotal = "tradebot_trades_opened_total"
	MetricTradesClosedTotal = "tradebot_trades_closed_total"
	MetricRiskBlockedTotal  = "tradebot_risk_blocked_total"
	MetricTickErrorsTotal   = "tradebot_tick_errors_total"
	MetricTickLatency       = "tradebot_tick_latency_ms"
	MetricOpenPositions     = "tradebot_open_positions"
	MetricDailyLoss         = "tradebot_daily_loss"
	MetricRealizedPnL       = "tradebot_realized_pnl"
	MetricBalance           = "tradebot_account_balance"
	MetricLossLimitReached  = "tradebot_daily_loss_limit_reached"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	SignalsTotal      metric.Int64Counter
	TradesOpenedTotal metric.Int64Counter
	TradesClosedTotal metric.Int64Counter
	RiskBlockedTotal  metric.Int64Counter
	TickErrorsTotal   metric.Int64Counter
	TickLatency       metric.Float64Histogram
	OpenPositions     metric.Int64ObservableGauge
	DailyLoss         metric.Float64ObservableGauge
	RealizedPnL       metric.Float64ObservableGauge
	Balance           metric.Float64ObservableGauge
	LossLimitReached  metric.Int64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	openPositions    int64
	dailyLoss        float64
	realizedPnLMap   map[string]float64
	balance          float64
	lossLimitReached int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			realizedPnLMap: make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Strategy signals emitted, by symbol and type"))
	if err != nil {
		return err
	}

	m.TradesOpenedTotal, err = meter.Int64Counter(MetricTradesOpenedTotal, metric.WithDescription("Positions opened"))
	if err != nil {
		return err
	}

	m.TradesClosedTotal, err = meter.Int64Counter(MetricTradesClosedTotal, metric.WithDescription("Positions closed, by reason"))
	if err != nil {
		return err
	}

	m.RiskBlockedTotal, err = meter.Int64Counter(MetricRiskBlockedTotal, metric.WithDescription("Signals rejected by the risk manager, by reason"))
	if err != nil {
		return err
	}

	m.TickErrorsTotal, err = meter.Int64Counter(MetricTickErrorsTotal, metric.WithDescription("Evaluation ticks that degraded to no-action because of an error"))
	if err != nil {
		return err
	}

	m.TickLatency, err = meter.Float64Histogram(MetricTickLatency, metric.WithDescription("Duration of one symbol evaluation tick"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Number of non-closed positions"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DailyLoss, err = meter.Float64ObservableGauge(MetricDailyLoss, metric.WithDescription("Cumulative realized loss for the current trading day"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.dailyLoss)
			return nil
		}))
	if err != nil {
		return err
	}

	m.RealizedPnL, err = meter.Float64ObservableGauge(MetricRealizedPnL, metric.WithDescription("Cumulative realized PnL per symbol"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.realizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.Balance, err = meter.Float64ObservableGauge(MetricBalance, metric.WithDescription("Last observed account balance"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.balance)
			return nil
		}))
	if err != nil {
		return err
	}

	m.LossLimitReached, err = meter.Int64ObservableGauge(MetricLossLimitReached, metric.WithDescription("Daily loss circuit breaker state (1=tripped)"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.lossLimitReached)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenPositions(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = count
}

func (m *MetricsHolder) SetDailyLoss(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLoss = value
}

func (m *MetricsHolder) AddRealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realizedPnLMap[symbol] += value
}

func (m *MetricsHolder) SetBalance(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = value
}

func (m *MetricsHolder) SetLossLimitReached(tripped bool) {
	val := int64(0)
	if tripped {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossLimitReached = val
}
