// Package core defines the domain types and interfaces of the trading bot.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData supplies recent price history for a symbol. Failure is
// transient for the caller: the engine treats it as HOLD for that tick.
type MarketData interface {
	GetRecentPrices(ctx context.Context, symbol string, count int) ([]PriceSample, error)
}

// ExecutionGateway is the exchange client that actually places orders.
// The core only decides WHAT to submit.
type ExecutionGateway interface {
	// SubmitEntry places the entry order plus its protective stop-loss and
	// take-profit orders and returns the entry fill.
	SubmitEntry(ctx context.Context, req *OrderRequest) (*Fill, error)

	// SubmitExit closes the position identified by req.PositionID with a
	// reduce-only market order and returns the exit fill.
	SubmitExit(ctx context.Context, pos *Position, reason CloseReason) (*Fill, error)
}

// AccountReader exposes the account balance used by the risk floor check.
type AccountReader interface {
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Notifier delivers structured events to humans. Formatting is its
// concern, not the engine's.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// StateStore persists the engine snapshot across restarts and journals
// closed trades.
type StateStore interface {
	SaveState(ctx context.Context, state *EngineState) error
	LoadState(ctx context.Context) (*EngineState, error)
	RecordTrade(ctx context.Context, pos *Position) error
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
