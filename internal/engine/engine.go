// Package engine drives the trade decision loop: fetch prices, manage
// exits, evaluate the crossover signal, gate it through risk and
// execute approved entries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tradebot/internal/core"
	"tradebot/internal/position"
	"tradebot/internal/risk"
	"tradebot/internal/signal"
	"tradebot/pkg/concurrency"
	apperrors "tradebot/pkg/errors"
	"tradebot/pkg/telemetry"
)

// Config holds the engine's runtime parameters.
type Config struct {
	Symbols      []string
	TickInterval time.Duration
	HistoryBars  int
	TradeAmount  decimal.Decimal
	QuoteAsset   string
}

// Engine owns one goroutine-per-tick pipeline per symbol. Symbol work
// runs on the shared worker pool; a per-symbol mutex guarantees at most
// one evaluation per symbol is in flight, and a tick that arrives while
// the previous one still runs is skipped rather than queued.
type Engine struct {
	cfg      Config
	market   core.MarketData
	gateway  core.ExecutionGateway
	account  core.AccountReader
	notifier core.Notifier
	signals  *signal.Engine
	risk     *risk.Manager
	tracker  *position.Tracker
	store    core.StateStore
	pool     *concurrency.WorkerPool
	logger   core.ILogger

	slots    map[string]*sync.Mutex
	version  atomic.Int64
	lastTick atomic.Int64
}

// New wires up the engine. All collaborators are required except store,
// which may be nil to disable persistence.
func New(
	cfg Config,
	market core.MarketData,
	gateway core.ExecutionGateway,
	account core.AccountReader,
	notifier core.Notifier,
	signals *signal.Engine,
	riskMgr *risk.Manager,
	tracker *position.Tracker,
	stateStore core.StateStore,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
) *Engine {
	slots := make(map[string]*sync.Mutex, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		slots[s] = &sync.Mutex{}
	}
	return &Engine{
		cfg:      cfg,
		market:   market,
		gateway:  gateway,
		account:  account,
		notifier: notifier,
		signals:  signals,
		risk:     riskMgr,
		tracker:  tracker,
		store:    stateStore,
		pool:     pool,
		logger:   logger.WithField("component", "engine"),
		slots:    slots,
	}
}

// Restore loads persisted state into the tracker and the loss breaker.
// Called once before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	state, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore engine state: %w", err)
	}
	if state == nil {
		return nil
	}

	e.tracker.Restore(state.Positions)
	e.risk.Breaker().Restore(state.Day, state.DailyLoss)
	e.version.Store(state.Version)

	e.logger.Info("state restored",
		"version", state.Version,
		"open_positions", len(state.Positions),
		"day", state.Day,
		"daily_loss", state.DailyLoss.String())
	return nil
}

// Run executes the tick loop until ctx is cancelled. The first tick
// fires immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		"symbols", e.cfg.Symbols,
		"tick_interval", e.cfg.TickInterval.String())

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.persist(context.WithoutCancel(ctx))
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// LastTickAge reports how long ago the last tick completed. Used as a
// health check.
func (e *Engine) LastTickAge() time.Duration {
	last := e.lastTick.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(last))
}

// CheckHealth fails when ticks have stalled for more than three
// intervals.
func (e *Engine) CheckHealth() error {
	if age := e.LastTickAge(); age > 3*e.cfg.TickInterval {
		return fmt.Errorf("last tick %s ago", age.Round(time.Second))
	}
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	e.refreshBalance(ctx)

	for _, symbol := range e.cfg.Symbols {
		sym := symbol
		if err := e.pool.Submit(func() {
			e.evaluateSymbol(ctx, sym)
		}); err != nil {
			e.logger.Warn("tick pool saturated, dropping symbol tick", "symbol", sym)
		}
	}
	e.lastTick.Store(time.Now().UnixMilli())
}

func (e *Engine) refreshBalance(ctx context.Context) {
	balance, err := e.account.Balance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		// Keep the previous cached balance rather than treating an API
		// blip as a zero balance.
		e.logger.Warn("balance refresh failed", "error", err)
		return
	}
	e.risk.SetBalance(balance)
	bf, _ := balance.Float64()
	telemetry.GetGlobalMetrics().SetBalance(bf)
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) {
	slot := e.slots[symbol]
	if slot == nil || !slot.TryLock() {
		e.logger.Debug("previous evaluation still running, skipping tick", "symbol", symbol)
		return
	}
	defer slot.Unlock()

	started := time.Now()
	defer func() {
		if h := telemetry.GetGlobalMetrics().TickLatency; h != nil {
			h.Record(ctx, float64(time.Since(started).Milliseconds()),
				metric.WithAttributes(attribute.String("symbol", symbol)))
		}
	}()

	samples, err := e.market.GetRecentPrices(ctx, symbol, e.cfg.HistoryBars)
	if err != nil {
		e.tickError(ctx, symbol, "failed to fetch prices", err)
		return
	}
	if len(samples) == 0 {
		e.tickError(ctx, symbol, "no price data", fmt.Errorf("empty kline response"))
		return
	}
	lastClose := samples[len(samples)-1].Close

	// Exit management runs before new entries so a stop or target hit
	// is acted on with this tick's price, not next tick's.
	if e.manageExit(ctx, symbol, lastClose) {
		return
	}

	sig, err := e.signals.Evaluate(symbol, samples)
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientData) {
			e.logger.Debug("not enough history yet", "symbol", symbol, "samples", len(samples))
			return
		}
		e.tickError(ctx, symbol, "signal evaluation failed", err)
		return
	}

	if c := telemetry.GetGlobalMetrics().SignalsTotal; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("type", string(sig.Type))))
	}
	if sig.Type == core.SignalHold {
		return
	}

	e.logger.Info("signal",
		"symbol", symbol,
		"type", string(sig.Type),
		"fast_sma", sig.FastSMA.StringFixed(4),
		"slow_sma", sig.SlowSMA.StringFixed(4),
		"close", lastClose.String())
	e.notifier.Publish(ctx, core.Event{
		Type:    core.EventSignal,
		Symbol:  symbol,
		At:      sig.At,
		Message: fmt.Sprintf("%s crossover at %s", sig.Type, lastClose),
		Fields: map[string]string{
			"fast_sma": sig.FastSMA.StringFixed(4),
			"slow_sma": sig.SlowSMA.StringFixed(4),
		},
	})

	decision := e.risk.Evaluate(sig)
	if !decision.Approved {
		if c := telemetry.GetGlobalMetrics().RiskBlockedTotal; c != nil {
			c.Add(ctx, 1, metric.WithAttributes(
				attribute.String("symbol", symbol),
				attribute.String("reason", decision.Reason)))
		}
		e.notifier.Publish(ctx, core.Event{
			Type:    core.EventRiskBlocked,
			Symbol:  symbol,
			At:      time.Now(),
			Message: decision.Reason,
		})
		return
	}

	e.openPosition(ctx, symbol, sig, lastClose)
}

// manageExit checks the open position for the symbol against the
// current price and closes it when a protective level is hit. Returns
// true when an exit was processed (or attempted) this tick.
func (e *Engine) manageExit(ctx context.Context, symbol string, lastClose decimal.Decimal) bool {
	pos, ok := e.tracker.Active(symbol)
	if !ok || pos.Status != core.PositionOpen {
		return false
	}

	check := e.tracker.CheckExit(pos, lastClose)
	if check == core.ExitNone {
		return false
	}
	reason := check.Reason()

	fill, err := e.gateway.SubmitExit(ctx, pos, reason)
	if err != nil {
		// The position stays open; the next tick retries the exit.
		e.tickError(ctx, symbol, "exit order failed", err)
		return true
	}

	closed, err := e.tracker.Close(pos.ID, fill.Price, reason)
	if err != nil {
		e.tickError(ctx, symbol, "failed to close position", err)
		return true
	}

	if c := telemetry.GetGlobalMetrics().TradesClosedTotal; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("reason", string(reason))))
	}
	e.notifier.Publish(ctx, core.Event{
		Type:    core.EventTradeClosed,
		Symbol:  symbol,
		At:      closed.ClosedAt,
		Message: fmt.Sprintf("%s closed at %s, pnl %s", closed.Side, fill.Price, closed.RealizedPnL),
		Fields: map[string]string{
			"position_id": closed.ID,
			"reason":      string(reason),
			"pnl":         closed.RealizedPnL.String(),
		},
	})

	e.journalTrade(ctx, closed)
	e.persist(ctx)
	return true
}

func (e *Engine) openPosition(ctx context.Context, symbol string, sig core.Signal, lastClose decimal.Decimal) {
	side := core.SideLong
	if sig.Type == core.SignalSell {
		side = core.SideShort
	}
	quantity := e.cfg.TradeAmount.DivRound(lastClose, 8)

	pos, err := e.tracker.Open(symbol, side, lastClose, quantity)
	if err != nil {
		// Lost a race with another tick for the same symbol slot.
		e.logger.Warn("could not reserve position", "symbol", symbol, "error", err)
		return
	}

	fill, err := e.gateway.SubmitEntry(ctx, &core.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: lastClose,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		PositionID: pos.ID,
	})
	if err != nil {
		if derr := e.tracker.Discard(pos.ID); derr != nil {
			e.logger.Error("failed to discard pending position", "position_id", pos.ID, "error", derr)
		}
		e.tickError(ctx, symbol, "entry order failed", err)
		return
	}

	opened, err := e.tracker.ConfirmFill(pos.ID)
	if err != nil {
		e.tickError(ctx, symbol, "failed to confirm fill", err)
		return
	}

	if c := telemetry.GetGlobalMetrics().TradesOpenedTotal; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("side", string(side))))
	}
	e.logger.Info("position opened",
		"symbol", symbol,
		"position_id", opened.ID,
		"side", string(side),
		"entry", opened.EntryPrice.String(),
		"quantity", quantity.String(),
		"fill_price", fill.Price.String())
	e.notifier.Publish(ctx, core.Event{
		Type:    core.EventTradeOpened,
		Symbol:  symbol,
		At:      opened.OpenedAt,
		Message: fmt.Sprintf("%s %s @ %s", side, quantity, opened.EntryPrice),
		Fields: map[string]string{
			"position_id": opened.ID,
			"stop_loss":   opened.StopLoss.String(),
			"take_profit": opened.TakeProfit.String(),
		},
	})

	e.persist(ctx)
}

func (e *Engine) tickError(ctx context.Context, symbol, msg string, err error) {
	if c := telemetry.GetGlobalMetrics().TickErrorsTotal; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
	e.logger.Error(msg, "symbol", symbol, "error", err)
	e.notifier.Publish(ctx, core.Event{
		Type:    core.EventError,
		Symbol:  symbol,
		At:      time.Now(),
		Message: fmt.Sprintf("%s: %v", msg, err),
	})
}

func (e *Engine) journalTrade(ctx context.Context, closed *core.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordTrade(ctx, closed); err != nil {
		e.logger.Error("failed to journal trade", "position_id", closed.ID, "error", err)
	}
}

func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	breaker := e.risk.Breaker()
	state := &core.EngineState{
		Version:   e.version.Add(1),
		Day:       breaker.CurrentDay(),
		DailyLoss: breaker.LossToday(),
		Positions: e.tracker.Snapshot(),
		SavedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveState(ctx, state); err != nil {
		e.logger.Error("failed to persist state", "error", err)
	}
}
