// Package exchange provides execution backends. The paper gateway
// simulates fills locally so the full decision pipeline can run without
// touching a real account.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
)

// PaperGateway fills every order instantly at the requested price and
// tracks a simulated quote balance. It implements both
// core.ExecutionGateway and core.AccountReader.
type PaperGateway struct {
	mu      sync.Mutex
	asset   string
	balance decimal.Decimal
	logger  core.ILogger
	now     func() time.Time
}

// NewPaperGateway starts the simulated account with the given balance.
func NewPaperGateway(asset string, startingBalance decimal.Decimal, logger core.ILogger) *PaperGateway {
	return &PaperGateway{
		asset:   asset,
		balance: startingBalance,
		logger:  logger.WithField("component", "paper_gateway"),
		now:     time.Now,
	}
}

// SubmitEntry fills at the requested entry price and reserves the
// notional from the simulated balance.
func (g *PaperGateway) SubmitEntry(_ context.Context, req *core.OrderRequest) (*core.Fill, error) {
	notional := req.EntryPrice.Mul(req.Quantity)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.balance.LessThan(notional) {
		return nil, fmt.Errorf("%w: need %s, have %s", apperrors.ErrInsufficientFunds, notional, g.balance)
	}
	g.balance = g.balance.Sub(notional)

	g.logger.Info("paper fill",
		"symbol", req.Symbol,
		"side", string(req.Side),
		"price", req.EntryPrice.String(),
		"quantity", req.Quantity.String())

	return &core.Fill{
		PositionID: req.PositionID,
		Symbol:     req.Symbol,
		Price:      req.EntryPrice,
		Quantity:   req.Quantity,
		At:         g.now(),
	}, nil
}

// SubmitExit fills at the protective level that triggered the close, or
// at entry for a manual close, and returns the notional plus PnL to the
// simulated balance.
func (g *PaperGateway) SubmitExit(_ context.Context, pos *core.Position, reason core.CloseReason) (*core.Fill, error) {
	var price decimal.Decimal
	switch reason {
	case core.CloseStopLoss:
		price = pos.StopLoss
	case core.CloseTakeProfit:
		price = pos.TakeProfit
	default:
		price = pos.EntryPrice
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	diff := price.Sub(pos.EntryPrice)
	if pos.Side == core.SideShort {
		diff = diff.Neg()
	}
	proceeds := pos.EntryPrice.Mul(pos.Quantity).Add(diff.Mul(pos.Quantity))
	g.balance = g.balance.Add(proceeds)

	g.logger.Info("paper exit",
		"symbol", pos.Symbol,
		"reason", string(reason),
		"price", price.String())

	return &core.Fill{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Price:      price,
		Quantity:   pos.Quantity,
		At:         g.now(),
	}, nil
}

// Balance returns the simulated balance for the configured asset.
func (g *PaperGateway) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if asset != g.asset {
		return decimal.Zero, fmt.Errorf("unknown asset %s", asset)
	}
	return g.balance, nil
}
