// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Trading     TradingConfig     `yaml:"trading"`
	Risk        RiskConfig        `yaml:"risk"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Timing      TimingConfig      `yaml:"timing"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Symbols             []string `yaml:"symbols"`
	TickIntervalSeconds int      `yaml:"tick_interval_seconds"`
	Sandbox             bool     `yaml:"sandbox"` // paper trading, no real orders
	QuoteAsset          string   `yaml:"quote_asset"`
}

// StrategyConfig contains the moving average parameters
type StrategyConfig struct {
	FastPeriod  int    `yaml:"fast_period"`
	SlowPeriod  int    `yaml:"slow_period"`
	Interval    string `yaml:"interval"`     // kline interval, e.g. 1m
	HistoryBars int    `yaml:"history_bars"` // candles fetched per tick
}

// TradingConfig contains position sizing and protective level settings
type TradingConfig struct {
	TradeAmount       float64 `yaml:"trade_amount"` // quote currency per entry
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `yaml:"take_profit_percent"`
}

// RiskConfig contains account and exposure limits
type RiskConfig struct {
	MaxPositions     int     `yaml:"max_positions"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MinBalance       float64 `yaml:"min_balance"`
	RolloverTimezone string  `yaml:"rollover_timezone"` // IANA name, defaults to UTC
}

// ExchangeConfig contains exchange API credentials and endpoints
type ExchangeConfig struct {
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	WSBaseURL string `yaml:"ws_base_url"`
}

// AlertsConfig contains notification channel settings
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig configures the Telegram alert channel
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken Secret `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig configures the Slack webhook alert channel
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL Secret `yaml:"webhook_url"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel    string `yaml:"log_level"`
	StateDBPath string `yaml:"state_db_path"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	TickPoolSize   int `yaml:"tick_pool_size"`
	TickPoolBuffer int `yaml:"tick_pool_buffer"`
}

// TimingConfig contains timing-related settings, all in seconds
type TimingConfig struct {
	WebsocketReconnectDelay int `yaml:"websocket_reconnect_delay"`
	WebsocketPongWait       int `yaml:"websocket_pong_wait"`
	WebsocketPingInterval   int `yaml:"websocket_ping_interval"`
	HTTPTimeout             int `yaml:"http_timeout"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.TickIntervalSeconds == 0 {
		c.App.TickIntervalSeconds = 60
	}
	if c.App.QuoteAsset == "" {
		c.App.QuoteAsset = "USDT"
	}
	if c.Strategy.FastPeriod == 0 {
		c.Strategy.FastPeriod = 20
	}
	if c.Strategy.SlowPeriod == 0 {
		c.Strategy.SlowPeriod = 50
	}
	if c.Strategy.Interval == "" {
		c.Strategy.Interval = "1m"
	}
	if c.Strategy.HistoryBars == 0 {
		c.Strategy.HistoryBars = c.Strategy.SlowPeriod + 10
	}
	if c.Trading.StopLossPercent == 0 {
		c.Trading.StopLossPercent = 2.0
	}
	if c.Trading.TakeProfitPercent == 0 {
		c.Trading.TakeProfitPercent = 5.0
	}
	if c.Risk.RolloverTimezone == "" {
		c.Risk.RolloverTimezone = "UTC"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://fapi.binance.com"
	}
	if c.Exchange.WSBaseURL == "" {
		c.Exchange.WSBaseURL = "wss://fstream.binance.com/ws"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.StateDBPath == "" {
		c.System.StateDBPath = "tradebot.db"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.Concurrency.TickPoolSize == 0 {
		c.Concurrency.TickPoolSize = 4
	}
	if c.Concurrency.TickPoolBuffer == 0 {
		c.Concurrency.TickPoolBuffer = 64
	}
	if c.Timing.WebsocketReconnectDelay == 0 {
		c.Timing.WebsocketReconnectDelay = 5
	}
	if c.Timing.WebsocketPongWait == 0 {
		c.Timing.WebsocketPongWait = 60
	}
	if c.Timing.WebsocketPingInterval == 0 {
		c.Timing.WebsocketPingInterval = 20
	}
	if c.Timing.HTTPTimeout == 0 {
		c.Timing.HTTPTimeout = 10
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRiskConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchangeConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if len(c.App.Symbols) == 0 {
		return ValidationError{
			Field:   "app.symbols",
			Message: "at least one symbol must be configured",
		}
	}
	seen := make(map[string]bool)
	for _, s := range c.App.Symbols {
		if s == "" {
			return ValidationError{
				Field:   "app.symbols",
				Message: "symbol must not be empty",
			}
		}
		if seen[s] {
			return ValidationError{
				Field:   "app.symbols",
				Value:   s,
				Message: "duplicate symbol",
			}
		}
		seen[s] = true
	}
	if c.App.TickIntervalSeconds < 1 || c.App.TickIntervalSeconds > 3600 {
		return ValidationError{
			Field:   "app.tick_interval_seconds",
			Value:   c.App.TickIntervalSeconds,
			Message: "must be between 1 and 3600",
		}
	}
	return nil
}

func (c *Config) validateStrategyConfig() error {
	if c.Strategy.FastPeriod < 1 {
		return ValidationError{
			Field:   "strategy.fast_period",
			Value:   c.Strategy.FastPeriod,
			Message: "must be at least 1",
		}
	}
	if c.Strategy.SlowPeriod <= c.Strategy.FastPeriod {
		return ValidationError{
			Field:   "strategy.slow_period",
			Value:   c.Strategy.SlowPeriod,
			Message: "must be greater than fast_period",
		}
	}
	if c.Strategy.HistoryBars < c.Strategy.SlowPeriod+1 {
		return ValidationError{
			Field:   "strategy.history_bars",
			Value:   c.Strategy.HistoryBars,
			Message: fmt.Sprintf("must be at least slow_period+1 (%d)", c.Strategy.SlowPeriod+1),
		}
	}
	validIntervals := []string{"1m", "3m", "5m", "15m", "30m", "1h", "4h", "1d"}
	if !contains(validIntervals, c.Strategy.Interval) {
		return ValidationError{
			Field:   "strategy.interval",
			Value:   c.Strategy.Interval,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validIntervals, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTradingConfig() error {
	if c.Trading.TradeAmount <= 0 {
		return ValidationError{
			Field:   "trading.trade_amount",
			Value:   c.Trading.TradeAmount,
			Message: "must be positive",
		}
	}
	if c.Trading.StopLossPercent <= 0 || c.Trading.StopLossPercent >= 100 {
		return ValidationError{
			Field:   "trading.stop_loss_percent",
			Value:   c.Trading.StopLossPercent,
			Message: "must be between 0 and 100 exclusive",
		}
	}
	if c.Trading.TakeProfitPercent <= 0 {
		return ValidationError{
			Field:   "trading.take_profit_percent",
			Value:   c.Trading.TakeProfitPercent,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateRiskConfig() error {
	if c.Risk.MaxPositions < 0 {
		return ValidationError{
			Field:   "risk.max_positions",
			Value:   c.Risk.MaxPositions,
			Message: "must not be negative",
		}
	}
	if c.Risk.MaxDailyLoss < 0 {
		return ValidationError{
			Field:   "risk.max_daily_loss",
			Value:   c.Risk.MaxDailyLoss,
			Message: "must not be negative",
		}
	}
	if c.Risk.MinBalance < 0 {
		return ValidationError{
			Field:   "risk.min_balance",
			Value:   c.Risk.MinBalance,
			Message: "must not be negative",
		}
	}
	if _, err := time.LoadLocation(c.Risk.RolloverTimezone); err != nil {
		return ValidationError{
			Field:   "risk.rollover_timezone",
			Value:   c.Risk.RolloverTimezone,
			Message: "unknown IANA timezone",
		}
	}
	return nil
}

func (c *Config) validateExchangeConfig() error {
	// Sandbox mode trades on paper and needs no credentials.
	if c.App.Sandbox {
		return nil
	}
	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{
			Field:   "exchange.secret_key",
			Message: "secret key is required",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// TickInterval returns the tick cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.App.TickIntervalSeconds) * time.Second
}

// RolloverLocation returns the loaded rollover timezone. Validate has
// already checked the name, so errors here cannot happen in practice.
func (c *Config) RolloverLocation() *time.Location {
	loc, err := time.LoadLocation(c.Risk.RolloverTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// expandEnvVars expands ${VAR} references in the raw YAML content
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
