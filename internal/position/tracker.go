// Package position owns the position lifecycle. Every position moves
// through PENDING, OPEN and CLOSED exactly once; the tracker is the
// single writer and hands out copies so callers can never mutate its
// records.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
	"tradebot/pkg/telemetry"
)

var hundred = decimal.NewFromInt(100)

// Config holds the protective level distances as percentages of the
// entry price.
type Config struct {
	StopLossPercent   decimal.Decimal
	TakeProfitPercent decimal.Decimal
}

// CloseRecorder receives the realized PnL of every closed position.
type CloseRecorder interface {
	RecordClose(pnl decimal.Decimal)
}

// Tracker maintains all positions by id with a per-symbol index of the
// single non-closed position.
type Tracker struct {
	mu       sync.RWMutex
	cfg      Config
	byID     map[string]*core.Position
	bySymbol map[string]string
	recorder CloseRecorder
	logger   core.ILogger

	now   func() time.Time
	newID func() string
}

// NewTracker creates an empty tracker. recorder may be nil when no loss
// accounting is wanted.
func NewTracker(cfg Config, recorder CloseRecorder, logger core.ILogger) *Tracker {
	return &Tracker{
		cfg:      cfg,
		byID:     make(map[string]*core.Position),
		bySymbol: make(map[string]string),
		recorder: recorder,
		logger:   logger.WithField("component", "position_tracker"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Open registers a PENDING position and reserves the symbol slot. The
// protective levels are derived from the entry price: for a long the
// stop sits below and the target above, mirrored for a short. Fails
// with ErrDuplicatePosition while the symbol already has a non-closed
// position.
func (t *Tracker) Open(symbol string, side core.Side, entry, quantity decimal.Decimal) (*core.Position, error) {
	if !entry.IsPositive() || !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: entry=%s quantity=%s", apperrors.ErrInvalidOrderParameter, entry, quantity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.bySymbol[symbol]; busy {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicatePosition, symbol)
	}

	slFrac := t.cfg.StopLossPercent.Div(hundred)
	tpFrac := t.cfg.TakeProfitPercent.Div(hundred)

	var stop, target decimal.Decimal
	if side == core.SideLong {
		stop = entry.Mul(decimal.NewFromInt(1).Sub(slFrac))
		target = entry.Mul(decimal.NewFromInt(1).Add(tpFrac))
	} else {
		stop = entry.Mul(decimal.NewFromInt(1).Add(slFrac))
		target = entry.Mul(decimal.NewFromInt(1).Sub(tpFrac))
	}

	pos := &core.Position{
		ID:         t.newID(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   quantity,
		StopLoss:   stop,
		TakeProfit: target,
		Status:     core.PositionPending,
		OpenedAt:   t.now(),
	}

	t.byID[pos.ID] = pos
	t.bySymbol[symbol] = pos.ID
	t.publishGauges()

	t.logger.Info("position pending",
		"position_id", pos.ID,
		"symbol", symbol,
		"side", string(side),
		"entry", entry.String(),
		"stop_loss", stop.String(),
		"take_profit", target.String())

	return clone(pos), nil
}

// ConfirmFill moves a PENDING position to OPEN. Calling it again on an
// already OPEN position is a no-op, which makes fill confirmation safe
// to retry. Fails with ErrUnknownPosition for absent or CLOSED ids.
func (t *Tracker) ConfirmFill(id string) (*core.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok || pos.Status == core.PositionClosed {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownPosition, id)
	}
	pos.Status = core.PositionOpen
	return clone(pos), nil
}

// Close moves an OPEN position to CLOSED, computes realized PnL from
// the exit price, releases the symbol slot and reports the PnL to the
// recorder. Fails with ErrUnknownPosition for absent or already CLOSED
// ids; a PENDING position cannot be closed.
func (t *Tracker) Close(id string, exitPrice decimal.Decimal, reason core.CloseReason) (*core.Position, error) {
	t.mu.Lock()

	pos, ok := t.byID[id]
	if !ok || pos.Status == core.PositionClosed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownPosition, id)
	}
	if pos.Status == core.PositionPending {
		t.mu.Unlock()
		return nil, fmt.Errorf("position %s has no confirmed fill yet", id)
	}

	diff := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == core.SideShort {
		diff = diff.Neg()
	}
	pnl := diff.Mul(pos.Quantity)

	pos.Status = core.PositionClosed
	pos.ExitPrice = exitPrice
	pos.RealizedPnL = pnl
	pos.CloseReason = reason
	pos.ClosedAt = t.now()
	delete(t.bySymbol, pos.Symbol)
	t.publishGauges()

	pnlF, _ := pnl.Float64()
	telemetry.GetGlobalMetrics().AddRealizedPnL(pos.Symbol, pnlF)

	out := clone(pos)
	t.mu.Unlock()

	if t.recorder != nil {
		t.recorder.RecordClose(pnl)
	}

	t.logger.Info("position closed",
		"position_id", id,
		"symbol", out.Symbol,
		"reason", string(reason),
		"exit", exitPrice.String(),
		"pnl", pnl.String())

	return out, nil
}

// Discard drops a PENDING position whose entry order was never filled,
// releasing the symbol slot. Only PENDING positions can be discarded.
func (t *Tracker) Discard(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownPosition, id)
	}
	if pos.Status != core.PositionPending {
		return fmt.Errorf("cannot discard %s position %s", pos.Status, id)
	}
	delete(t.byID, id)
	delete(t.bySymbol, pos.Symbol)
	t.publishGauges()
	return nil
}

// CheckExit reports whether the current price has reached the stop loss
// or take profit of an OPEN position. The stop is checked first, so a
// price that somehow satisfies both resolves as a stop.
func (t *Tracker) CheckExit(pos *core.Position, current decimal.Decimal) core.ExitCheck {
	if pos == nil || pos.Status != core.PositionOpen {
		return core.ExitNone
	}
	if pos.Side == core.SideLong {
		if current.LessThanOrEqual(pos.StopLoss) {
			return core.ExitStopLossHit
		}
		if current.GreaterThanOrEqual(pos.TakeProfit) {
			return core.ExitTakeProfitHit
		}
		return core.ExitNone
	}
	if current.GreaterThanOrEqual(pos.StopLoss) {
		return core.ExitStopLossHit
	}
	if current.LessThanOrEqual(pos.TakeProfit) {
		return core.ExitTakeProfitHit
	}
	return core.ExitNone
}

// Active returns a copy of the non-closed position for the symbol.
func (t *Tracker) Active(symbol string) (*core.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySymbol[symbol]
	if !ok {
		return nil, false
	}
	return clone(t.byID[id]), true
}

// Get returns a copy of any tracked position by id, closed included.
func (t *Tracker) Get(id string) (*core.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return clone(pos), true
}

// ActiveCount returns the number of non-closed positions.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bySymbol)
}

// HasActive reports whether the symbol currently has a non-closed
// position.
func (t *Tracker) HasActive(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bySymbol[symbol]
	return ok
}

// Snapshot returns copies of all non-closed positions for persistence.
func (t *Tracker) Snapshot() []*core.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*core.Position, 0, len(t.bySymbol))
	for _, id := range t.bySymbol {
		out = append(out, clone(t.byID[id]))
	}
	return out
}

// Restore rehydrates the tracker from persisted positions, replacing
// any current state. Closed positions in the input are ignored.
func (t *Tracker) Restore(positions []*core.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]*core.Position)
	t.bySymbol = make(map[string]string)
	for _, p := range positions {
		if p == nil || p.Status == core.PositionClosed {
			continue
		}
		cp := clone(p)
		t.byID[cp.ID] = cp
		t.bySymbol[cp.Symbol] = cp.ID
	}
	t.publishGauges()
}

func (t *Tracker) publishGauges() {
	telemetry.GetGlobalMetrics().SetOpenPositions(int64(len(t.bySymbol)))
}

func clone(p *core.Position) *core.Position {
	cp := *p
	return &cp
}
