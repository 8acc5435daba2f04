package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/core"
	"tradebot/internal/mock"
	"tradebot/internal/position"
	"tradebot/internal/risk"
	"tradebot/internal/signal"
	"tradebot/internal/store"
	"tradebot/pkg/concurrency"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fixture struct {
	engine   *Engine
	market   *mock.MarketData
	gateway  *mock.Gateway
	account  *mock.Account
	notifier *mock.Notifier
	tracker  *position.Tracker
	breaker  *risk.DailyLossBreaker
	store    *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	market := mock.NewMarketData()
	gateway := mock.NewGateway()
	account := mock.NewAccount()
	account.SetBalance("USDT", 1000)
	notifier := mock.NewNotifier()
	memStore := store.NewMemoryStore()

	breaker := risk.NewDailyLossBreaker(dec(100), time.UTC)
	tracker := position.NewTracker(position.Config{
		StopLossPercent:   dec(2),
		TakeProfitPercent: dec(5),
	}, breaker, mock.NopLogger{})
	riskMgr := risk.NewManager(risk.Limits{
		MinBalance:   dec(50),
		MaxDailyLoss: dec(100),
		MaxPositions: 3,
	}, breaker, tracker, mock.NopLogger{})

	signals, err := signal.NewEngine(2, 4)
	require.NoError(t, err)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "tick",
		MaxWorkers:  2,
		MaxCapacity: 16,
	}, mock.NopLogger{})
	t.Cleanup(pool.Stop)

	eng := New(Config{
		Symbols:      []string{"BTCUSDT"},
		TickInterval: time.Second,
		HistoryBars:  60,
		TradeAmount:  dec(100),
		QuoteAsset:   "USDT",
	}, market, gateway, account, notifier, signals, riskMgr, tracker, memStore, pool, mock.NopLogger{})

	return &fixture{
		engine:   eng,
		market:   market,
		gateway:  gateway,
		account:  account,
		notifier: notifier,
		tracker:  tracker,
		breaker:  breaker,
		store:    memStore,
	}
}

// buyCross ends with the fast average crossing above the slow one.
var buyCross = []float64{100, 100, 100, 100, 100, 120}

func TestBuyCrossOpensPosition(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", buyCross)
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	require.Equal(t, 1, f.gateway.EntryCount())
	req := f.gateway.Entries[0]
	assert.Equal(t, core.SideLong, req.Side)
	assert.True(t, req.EntryPrice.Equal(dec(120)))
	// 100 USDT at price 120.
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("0.83333333")), "qty %s", req.Quantity)

	pos, ok := f.tracker.Active("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionOpen, pos.Status)

	assert.Len(t, f.notifier.ByType(core.EventSignal), 1)
	assert.Len(t, f.notifier.ByType(core.EventTradeOpened), 1)

	// State was persisted with the open position.
	state, err := f.store.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Len(t, state.Positions, 1)
}

func TestSellCrossOpensShort(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", []float64{100, 100, 100, 100, 100, 80})
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	require.Equal(t, 1, f.gateway.EntryCount())
	assert.Equal(t, core.SideShort, f.gateway.Entries[0].Side)
}

func TestInsufficientHistoryDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", []float64{100, 101})
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	assert.Zero(t, f.gateway.EntryCount())
	assert.Empty(t, f.notifier.Events)
}

func TestHoldDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", []float64{100, 100, 100, 100, 100, 100})
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	assert.Zero(t, f.gateway.EntryCount())
	assert.Empty(t, f.notifier.ByType(core.EventTradeOpened))
}

func TestRiskRejectionEmitsEvent(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", buyCross)
	f.account.SetBalance("USDT", 10)
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	assert.Zero(t, f.gateway.EntryCount())
	blocked := f.notifier.ByType(core.EventRiskBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "balance too low", blocked[0].Message)
}

func TestEntryFailureDiscardsPending(t *testing.T) {
	f := newFixture(t)
	f.market.SetSeries("BTCUSDT", buyCross)
	f.gateway.EntryErr = errors.New("exchange down")
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	// Slot released so the next signal can try again.
	assert.False(t, f.tracker.HasActive("BTCUSDT"))
	assert.Len(t, f.notifier.ByType(core.EventError), 1)
}

func TestStopLossExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.tracker.Open("BTCUSDT", core.SideLong, dec(100), dec(1))
	require.NoError(t, err)
	_, err = f.tracker.ConfirmFill(pos.ID)
	require.NoError(t, err)

	// Close at 97, below the 98 stop. The flat series produces no new
	// signal, so only the exit runs.
	f.market.SetSeries("BTCUSDT", []float64{100, 100, 100, 100, 100, 97})
	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	assert.False(t, f.tracker.HasActive("BTCUSDT"))
	closedEvents := f.notifier.ByType(core.EventTradeClosed)
	require.Len(t, closedEvents, 1)
	assert.Equal(t, "stop_loss", closedEvents[0].Fields["reason"])

	// The mock gateway fills stops at the stop price: a 2 USDT loss.
	assert.True(t, f.breaker.LossToday().Equal(dec(2)), "loss %s", f.breaker.LossToday())

	// Closed trade journaled.
	assert.Len(t, f.store.Trades(), 1)
}

func TestExitFailureKeepsPositionOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos, err := f.tracker.Open("BTCUSDT", core.SideLong, dec(100), dec(1))
	require.NoError(t, err)
	_, err = f.tracker.ConfirmFill(pos.ID)
	require.NoError(t, err)

	f.gateway.ExitErr = errors.New("exchange down")
	f.market.SetSeries("BTCUSDT", []float64{100, 100, 100, 100, 100, 90})
	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	got, ok := f.tracker.Active("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionOpen, got.Status)
	assert.Len(t, f.notifier.ByType(core.EventError), 1)
}

func TestDuplicateSignalBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Open("BTCUSDT", core.SideLong, dec(100), dec(1))
	require.NoError(t, err)

	f.market.SetSeries("BTCUSDT", buyCross)
	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")

	assert.Zero(t, f.gateway.EntryCount())
	blocked := f.notifier.ByType(core.EventRiskBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "duplicate position", blocked[0].Message)
}

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.market.SetSeries("BTCUSDT", buyCross)
	f.engine.refreshBalance(ctx)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")
	require.True(t, f.tracker.HasActive("BTCUSDT"))

	// A second engine sharing the store resumes the open position.
	g := newFixture(t)
	g.store = f.store
	g.engine.store = f.store
	require.NoError(t, g.engine.Restore(ctx))

	pos, ok := g.tracker.Active("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.PositionOpen, pos.Status)
}

func TestBalanceRefreshFailureKeepsCachedValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.refreshBalance(ctx)
	f.account.Err = errors.New("api down")
	f.engine.refreshBalance(ctx)

	// Stale balance still passes the risk gate.
	f.market.SetSeries("BTCUSDT", buyCross)
	f.engine.evaluateSymbol(ctx, "BTCUSDT")
	assert.Equal(t, 1, f.gateway.EntryCount())
}

func TestRunTicksAndStops(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.TickInterval = 20 * time.Millisecond
	f.market.SetSeries("BTCUSDT", buyCross)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.gateway.EntryCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.NoError(t, f.engine.CheckHealth())
}
