package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/core"
	"tradebot/pkg/websocket"
)

const klineCacheSize = 512

// KlineStream keeps a rolling window of closed candles per symbol fed
// by the Binance kline WebSocket stream. Until a symbol's cache is deep
// enough it delegates to the REST fallback, so a cold start still
// produces full history.
type KlineStream struct {
	mu       sync.RWMutex
	cache    map[string][]core.PriceSample
	symbols  []string
	interval string
	fallback core.MarketData
	ws       *websocket.Client
	logger   core.ILogger
}

// NewKlineStream creates a stream for the given symbols. fallback must
// not be nil.
func NewKlineStream(wsBaseURL string, symbols []string, interval string, fallback core.MarketData, logger core.ILogger) *KlineStream {
	s := &KlineStream{
		cache:    make(map[string][]core.PriceSample),
		symbols:  symbols,
		interval: interval,
		fallback: fallback,
		logger:   logger.WithField("component", "kline_stream"),
	}
	s.ws = websocket.NewClient(wsBaseURL, s.handleMessage, logger)
	s.ws.SetOnConnected(s.subscribe)
	return s
}

// SetPingConfig forwards heartbeat settings to the underlying socket.
func (s *KlineStream) SetPingConfig(interval, wait, pongWait time.Duration) {
	s.ws.SetPingConfig(interval, wait, pongWait)
}

// Start begins streaming. Reconnects resubscribe automatically.
func (s *KlineStream) Start() {
	s.ws.Start()
}

// Stop closes the stream.
func (s *KlineStream) Stop() {
	s.ws.Stop()
}

func (s *KlineStream) subscribe() {
	params := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		params[i] = strings.ToLower(sym) + "@kline_" + s.interval
	}
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	}
	if err := s.ws.Send(msg); err != nil {
		s.logger.Error("failed to subscribe to kline streams", "error", err)
	}
}

func (s *KlineStream) handleMessage(message []byte) {
	var event struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			CloseTime int64  `json:"T"`
			Close     string `json:"c"`
			Final     bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.EventType != "kline" || !event.Kline.Final {
		return
	}

	closePrice, err := decimal.NewFromString(event.Kline.Close)
	if err != nil {
		s.logger.Warn("unparseable kline close", "symbol", event.Symbol, "close", event.Kline.Close)
		return
	}

	sample := core.PriceSample{
		Timestamp: time.UnixMilli(event.Kline.CloseTime).UTC(),
		Close:     closePrice,
	}

	s.mu.Lock()
	series := s.cache[event.Symbol]
	// Reconnects can replay the last candle.
	if n := len(series); n > 0 && !series[n-1].Timestamp.Before(sample.Timestamp) {
		s.mu.Unlock()
		return
	}
	series = append(series, sample)
	if len(series) > klineCacheSize {
		series = series[len(series)-klineCacheSize:]
	}
	s.cache[event.Symbol] = series
	s.mu.Unlock()
}

// GetRecentPrices serves from the live cache when it holds enough
// candles, falling back to REST otherwise.
func (s *KlineStream) GetRecentPrices(ctx context.Context, symbol string, count int) ([]core.PriceSample, error) {
	s.mu.RLock()
	series := s.cache[symbol]
	if len(series) >= count {
		out := make([]core.PriceSample, count)
		copy(out, series[len(series)-count:])
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	samples, err := s.fallback.GetRecentPrices(ctx, symbol, count)
	if err != nil {
		return nil, err
	}

	// Seed the cache so the stream only has to append going forward.
	s.mu.Lock()
	if len(samples) > len(s.cache[symbol]) {
		seeded := make([]core.PriceSample, len(samples))
		copy(seeded, samples)
		s.cache[symbol] = seeded
	}
	s.mu.Unlock()

	return samples, nil
}

// CachedDepth reports how many candles are cached for a symbol.
func (s *KlineStream) CachedDepth(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache[symbol])
}
