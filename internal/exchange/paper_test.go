package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/core"
	"tradebot/internal/mock"
	apperrors "tradebot/pkg/errors"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestPaperGatewayRoundTrip(t *testing.T) {
	g := NewPaperGateway("USDT", dec(1000), mock.NopLogger{})
	ctx := context.Background()

	fill, err := g.SubmitEntry(ctx, &core.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       core.SideLong,
		Quantity:   dec(2),
		EntryPrice: dec(100),
		PositionID: "p1",
	})
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(dec(100)))

	// 200 reserved.
	b, err := g.Balance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, b.Equal(dec(800)))

	pos := &core.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Side:       core.SideLong,
		EntryPrice: dec(100),
		Quantity:   dec(2),
		StopLoss:   dec(98),
		TakeProfit: dec(105),
		Status:     core.PositionOpen,
	}
	exit, err := g.SubmitExit(ctx, pos, core.CloseTakeProfit)
	require.NoError(t, err)
	assert.True(t, exit.Price.Equal(dec(105)))

	// 200 notional back plus 10 profit.
	b, err = g.Balance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, b.Equal(dec(1010)), "balance %s", b)
}

func TestPaperGatewayStopLossExit(t *testing.T) {
	g := NewPaperGateway("USDT", dec(1000), mock.NopLogger{})
	ctx := context.Background()

	_, err := g.SubmitEntry(ctx, &core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideLong,
		Quantity: dec(1), EntryPrice: dec(100), PositionID: "p1",
	})
	require.NoError(t, err)

	pos := &core.Position{
		ID: "p1", Symbol: "BTCUSDT", Side: core.SideLong,
		EntryPrice: dec(100), Quantity: dec(1),
		StopLoss: dec(98), TakeProfit: dec(105),
		Status: core.PositionOpen,
	}
	exit, err := g.SubmitExit(ctx, pos, core.CloseStopLoss)
	require.NoError(t, err)
	assert.True(t, exit.Price.Equal(dec(98)))

	b, _ := g.Balance(ctx, "USDT")
	assert.True(t, b.Equal(dec(998)), "balance %s", b)
}

func TestPaperGatewayInsufficientFunds(t *testing.T) {
	g := NewPaperGateway("USDT", dec(50), mock.NopLogger{})

	_, err := g.SubmitEntry(context.Background(), &core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideLong,
		Quantity: dec(1), EntryPrice: dec(100), PositionID: "p1",
	})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = g.Balance(context.Background(), "EUR")
	assert.Error(t, err)
}
