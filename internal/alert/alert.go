// Package alert fans trading events out to notification channels.
package alert

import (
	"context"
	"sync"
	"time"

	"tradebot/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager implements core.Notifier. Delivery is asynchronous with
// a per-channel timeout so a slow webhook never stalls the trading
// path.
type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	timeout  time.Duration
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
		timeout:  10 * time.Second,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("added alert channel", "name", ch.Name())
}

// Publish maps an engine event to an alert and dispatches it to every
// channel.
func (am *AlertManager) Publish(ctx context.Context, event core.Event) {
	payload := AlertPayload{
		Level:     levelFor(event.Type),
		Title:     titleFor(event),
		Message:   event.Message,
		Timestamp: event.At,
		Fields:    event.Fields,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	am.mu.RLock()
	channels := make([]AlertChannel, len(am.channels))
	copy(channels, am.channels)
	am.mu.RUnlock()

	for _, ch := range channels {
		am.wg.Add(1)
		go func(c AlertChannel) {
			defer am.wg.Done()
			timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), am.timeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("failed to send alert",
					"channel", c.Name(), "title", payload.Title, "error", err)
			}
		}(ch)
	}
}

// Drain waits for in-flight deliveries, bounded by the per-channel
// timeout. Called on shutdown.
func (am *AlertManager) Drain() {
	am.wg.Wait()
}

func levelFor(t core.EventType) AlertLevel {
	switch t {
	case core.EventError:
		return Error
	case core.EventRiskBlocked:
		return Warning
	default:
		return Info
	}
}

func titleFor(event core.Event) string {
	switch event.Type {
	case core.EventSignal:
		return "Signal " + event.Symbol
	case core.EventTradeOpened:
		return "Trade opened " + event.Symbol
	case core.EventTradeClosed:
		return "Trade closed " + event.Symbol
	case core.EventRiskBlocked:
		return "Trade blocked " + event.Symbol
	case core.EventError:
		return "Error " + event.Symbol
	default:
		return string(event.Type) + " " + event.Symbol
	}
}
