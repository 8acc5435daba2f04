package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/core"
	"tradebot/internal/mock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), mock.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition(id, symbol string, status core.PositionStatus) *core.Position {
	return &core.Position{
		ID:          id,
		Symbol:      symbol,
		Side:        core.SideLong,
		EntryPrice:  decimal.NewFromFloat(100),
		ExitPrice:   decimal.NewFromFloat(95),
		Quantity:    decimal.NewFromFloat(0.5),
		StopLoss:    decimal.NewFromFloat(98),
		TakeProfit:  decimal.NewFromFloat(105),
		RealizedPnL: decimal.NewFromFloat(-2.5),
		Status:      status,
		CloseReason: core.CloseStopLoss,
		OpenedAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		ClosedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLoadStateEmpty(t *testing.T) {
	s := newTestStore(t)
	state, err := s.LoadState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSaveAndLoadState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &core.EngineState{
		Version:   7,
		Day:       "2025-03-01",
		DailyLoss: decimal.NewFromFloat(42.5),
		Positions: []*core.Position{samplePosition("p1", "BTCUSDT", core.PositionOpen)},
		SavedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveState(ctx, in))

	out, err := s.LoadState(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int64(7), out.Version)
	assert.Equal(t, "2025-03-01", out.Day)
	assert.True(t, out.DailyLoss.Equal(decimal.NewFromFloat(42.5)))
	require.Len(t, out.Positions, 1)
	assert.Equal(t, "p1", out.Positions[0].ID)
	assert.True(t, out.Positions[0].EntryPrice.Equal(decimal.NewFromFloat(100)))
}

func TestSaveStateOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &core.EngineState{Version: 1, SavedAt: time.Now()}))
	require.NoError(t, s.SaveState(ctx, &core.EngineState{Version: 2, SavedAt: time.Now()}))

	out, err := s.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Version)
}

func TestLoadStateChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &core.EngineState{Version: 1, SavedAt: time.Now()}))
	_, err := s.db.Exec(`UPDATE engine_state SET payload = '{"version":999}' WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.LoadState(ctx)
	assert.ErrorContains(t, err, "checksum")
}

func TestRecordTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTrade(ctx, samplePosition("p1", "BTCUSDT", core.PositionClosed)))
	require.NoError(t, s.RecordTrade(ctx, samplePosition("p2", "ETHUSDT", core.PositionClosed)))

	// Same id again updates instead of duplicating.
	require.NoError(t, s.RecordTrade(ctx, samplePosition("p1", "BTCUSDT", core.PositionClosed)))

	n, err := s.TradeCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.TradeCount(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordTradeRejectsNonClosed(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordTrade(context.Background(), samplePosition("p1", "BTCUSDT", core.PositionOpen))
	assert.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	state, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, m.SaveState(ctx, &core.EngineState{
		Version:   3,
		Positions: []*core.Position{samplePosition("p1", "BTCUSDT", core.PositionOpen)},
	}))
	out, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Version)

	require.NoError(t, m.RecordTrade(ctx, samplePosition("t1", "BTCUSDT", core.PositionClosed)))
	assert.Len(t, m.Trades(), 1)
}
