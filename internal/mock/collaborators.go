// Package mock provides in-memory test doubles for the engine's
// collaborator interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/core"
)

// MarketData serves a canned price series per symbol.
type MarketData struct {
	mu     sync.Mutex
	prices map[string][]core.PriceSample
	Err    error
}

func NewMarketData() *MarketData {
	return &MarketData{prices: make(map[string][]core.PriceSample)}
}

// SetSeries replaces the stored series for a symbol.
func (m *MarketData) SetSeries(symbol string, closes []float64) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]core.PriceSample, len(closes))
	for i, c := range closes {
		samples[i] = core.PriceSample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close:     decimal.NewFromFloat(c),
		}
	}
	m.mu.Lock()
	m.prices[symbol] = samples
	m.mu.Unlock()
}

// Append adds one close to the stored series.
func (m *MarketData) Append(symbol string, close float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series := m.prices[symbol]
	var ts time.Time
	if len(series) > 0 {
		ts = series[len(series)-1].Timestamp.Add(time.Minute)
	} else {
		ts = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	m.prices[symbol] = append(series, core.PriceSample{Timestamp: ts, Close: decimal.NewFromFloat(close)})
}

func (m *MarketData) GetRecentPrices(_ context.Context, symbol string, count int) ([]core.PriceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	series := m.prices[symbol]
	if len(series) > count {
		series = series[len(series)-count:]
	}
	out := make([]core.PriceSample, len(series))
	copy(out, series)
	return out, nil
}

// Gateway records submitted orders and fills them at the requested
// price unless an error is armed.
type Gateway struct {
	mu       sync.Mutex
	Entries  []*core.OrderRequest
	Exits    []*core.Position
	EntryErr error
	ExitErr  error
}

func NewGateway() *Gateway { return &Gateway{} }

func (g *Gateway) SubmitEntry(_ context.Context, req *core.OrderRequest) (*core.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.EntryErr != nil {
		return nil, g.EntryErr
	}
	g.Entries = append(g.Entries, req)
	return &core.Fill{
		PositionID: req.PositionID,
		Symbol:     req.Symbol,
		Price:      req.EntryPrice,
		Quantity:   req.Quantity,
		At:         time.Now(),
	}, nil
}

func (g *Gateway) SubmitExit(_ context.Context, pos *core.Position, reason core.CloseReason) (*core.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ExitErr != nil {
		return nil, g.ExitErr
	}
	cp := *pos
	g.Exits = append(g.Exits, &cp)
	price := pos.EntryPrice
	switch reason {
	case core.CloseStopLoss:
		price = pos.StopLoss
	case core.CloseTakeProfit:
		price = pos.TakeProfit
	}
	return &core.Fill{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Price:      price,
		Quantity:   pos.Quantity,
		At:         time.Now(),
	}, nil
}

// EntryCount returns the number of accepted entry orders.
func (g *Gateway) EntryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Entries)
}

// Account serves a fixed balance per asset.
type Account struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	Err      error
}

func NewAccount() *Account {
	return &Account{balances: make(map[string]decimal.Decimal)}
}

func (a *Account) SetBalance(asset string, v float64) {
	a.mu.Lock()
	a.balances[asset] = decimal.NewFromFloat(v)
	a.mu.Unlock()
}

func (a *Account) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return decimal.Zero, a.Err
	}
	return a.balances[asset], nil
}

// Notifier captures published events.
type Notifier struct {
	mu     sync.Mutex
	Events []core.Event
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Publish(_ context.Context, event core.Event) {
	n.mu.Lock()
	n.Events = append(n.Events, event)
	n.mu.Unlock()
}

// ByType returns the captured events of one type.
func (n *Notifier) ByType(t core.EventType) []core.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.Event
	for _, e := range n.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Exposure is a scripted risk.ExposureView.
type Exposure struct {
	Count   int
	Symbols map[string]bool
}

func (e *Exposure) ActiveCount() int { return e.Count }

func (e *Exposure) HasActive(symbol string) bool { return e.Symbols[symbol] }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{})                  {}
func (NopLogger) Info(string, ...interface{})                   {}
func (NopLogger) Warn(string, ...interface{})                   {}
func (NopLogger) Error(string, ...interface{})                  {}
func (NopLogger) Fatal(string, ...interface{})                  {}
func (n NopLogger) WithField(string, interface{}) core.ILogger  { return n }
func (n NopLogger) WithFields(map[string]interface{}) core.ILogger { return n }
