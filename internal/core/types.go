package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalType is the outcome of one strategy evaluation.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// PositionStatus tracks the position lifecycle. Transitions are strictly
// PENDING -> OPEN -> CLOSED; CLOSED is terminal.
type PositionStatus string

const (
	PositionPending PositionStatus = "PENDING"
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
)

// PriceSample is one close observation in an ordered, append-only series.
type PriceSample struct {
	Timestamp time.Time       `json:"timestamp"`
	Close     decimal.Decimal `json:"close"`
}

// Signal carries the strategy decision for one evaluation tick together
// with the moving-average values that produced it.
type Signal struct {
	Symbol  string
	Type    SignalType
	FastSMA decimal.Decimal
	SlowSMA decimal.Decimal
	At      time.Time
}

// Position is owned exclusively by the position tracker. Identity is a
// generated id unique per position.
type Position struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	Status      PositionStatus  `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl,omitempty"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
}

// CloseReason explains why a position was exited.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseSignal     CloseReason = "signal"
	CloseManual     CloseReason = "manual"
)

// ExitCheck is the advisory result of comparing the current price against
// a position's protective levels.
type ExitCheck int

const (
	ExitNone ExitCheck = iota
	ExitStopLossHit
	ExitTakeProfitHit
)

func (e ExitCheck) Reason() CloseReason {
	switch e {
	case ExitStopLossHit:
		return CloseStopLoss
	case ExitTakeProfitHit:
		return CloseTakeProfit
	}
	return CloseManual
}

// OrderRequest fully specifies the entry plus protective orders for one
// approved trade decision.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	PositionID string
}

// TradeDecision is the output of one evaluation: either no action or a
// fully specified order request.
type TradeDecision struct {
	Symbol string
	Order  *OrderRequest // nil means no action
	Reason string
}

// Fill is the gateway's confirmation that an order executed.
type Fill struct {
	PositionID string
	Symbol     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	At         time.Time
}

// EventType labels structured notifier events. Formatting and delivery
// are the notifier's concern.
type EventType string

const (
	EventSignal      EventType = "SIGNAL"
	EventTradeOpened EventType = "TRADE_OPENED"
	EventTradeClosed EventType = "TRADE_CLOSED"
	EventRiskBlocked EventType = "RISK_BLOCKED"
	EventError       EventType = "ERROR"
)

// Event is the structured payload the engine emits to the notifier.
type Event struct {
	Type    EventType
	Symbol  string
	At      time.Time
	Message string
	Fields  map[string]string
}

// EngineState is the persisted snapshot of the decision engine: every
// non-CLOSED position plus the risk day/loss counters.
type EngineState struct {
	Version   int64           `json:"version"`
	Day       string          `json:"day"` // YYYY-MM-DD in the rollover timezone
	DailyLoss decimal.Decimal `json:"daily_loss"`
	Positions []*Position     `json:"positions"`
	SavedAt   time.Time       `json:"saved_at"`
}
