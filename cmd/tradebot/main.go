package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/alert"
	"tradebot/internal/bootstrap"
	"tradebot/internal/core"
	"tradebot/internal/engine"
	"tradebot/internal/exchange"
	"tradebot/internal/exchange/binance"
	"tradebot/internal/infrastructure/health"
	"tradebot/internal/infrastructure/metrics"
	"tradebot/internal/position"
	"tradebot/internal/risk"
	"tradebot/internal/signal"
	"tradebot/internal/store"
	"tradebot/pkg/concurrency"
	"tradebot/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

// paperStartingBalance funds the simulated account in sandbox mode.
var paperStartingBalance = decimal.NewFromInt(10000)

func main() {
	configPath := flag.String("config", "configs/tradebot.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tradebot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	cfg, logger := app.Cfg, app.Logger

	logger.Info("starting tradebot",
		"version", version,
		"symbols", cfg.App.Symbols,
		"sandbox", cfg.App.Sandbox)

	tel, err := telemetry.Setup("tradebot")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	}()
	if err := telemetry.GetGlobalMetrics().InitMetrics(telemetry.GetMeter("tradebot")); err != nil {
		logger.Fatal("failed to initialize metrics", "error", err)
	}

	// Execution backends.
	var (
		market  core.MarketData
		gateway core.ExecutionGateway
		account core.AccountReader
	)
	httpTimeout := time.Duration(cfg.Timing.HTTPTimeout) * time.Second
	binanceClient := binance.NewClient(&cfg.Exchange, cfg.Strategy.Interval, httpTimeout, logger)

	klines := binance.NewKlineStream(
		cfg.Exchange.WSBaseURL, cfg.App.Symbols, cfg.Strategy.Interval, binanceClient, logger)
	klines.SetPingConfig(
		time.Duration(cfg.Timing.WebsocketPingInterval)*time.Second,
		10*time.Second,
		time.Duration(cfg.Timing.WebsocketPongWait)*time.Second)
	klines.Start()
	defer klines.Stop()
	market = klines

	if cfg.App.Sandbox {
		paper := exchange.NewPaperGateway(cfg.App.QuoteAsset, paperStartingBalance, logger)
		gateway, account = paper, paper
	} else {
		gateway, account = binanceClient, binanceClient
	}

	// State store. Sandbox runs stay in memory.
	var stateStore core.StateStore
	if cfg.App.Sandbox {
		stateStore = store.NewMemoryStore()
	} else {
		stateStore, err = store.NewSQLiteStore(cfg.System.StateDBPath, logger)
		if err != nil {
			logger.Fatal("failed to open state store", "error", err)
		}
	}
	defer stateStore.Close()

	// Alerting.
	notifier := alert.NewAlertManager(logger)
	if cfg.Alerts.Telegram.Enabled {
		notifier.AddChannel(alert.NewTelegramChannel(
			cfg.Alerts.Telegram.BotToken.Reveal(), cfg.Alerts.Telegram.ChatID))
	}
	if cfg.Alerts.Slack.Enabled {
		notifier.AddChannel(alert.NewSlackChannel(cfg.Alerts.Slack.WebhookURL.Reveal()))
	}
	defer notifier.Drain()

	// Decision pipeline.
	signals, err := signal.NewEngine(cfg.Strategy.FastPeriod, cfg.Strategy.SlowPeriod)
	if err != nil {
		logger.Fatal("invalid strategy configuration", "error", err)
	}

	breaker := risk.NewDailyLossBreaker(
		decimal.NewFromFloat(cfg.Risk.MaxDailyLoss), cfg.RolloverLocation())
	tracker := position.NewTracker(position.Config{
		StopLossPercent:   decimal.NewFromFloat(cfg.Trading.StopLossPercent),
		TakeProfitPercent: decimal.NewFromFloat(cfg.Trading.TakeProfitPercent),
	}, breaker, logger)
	riskMgr := risk.NewManager(risk.Limits{
		MinBalance:   decimal.NewFromFloat(cfg.Risk.MinBalance),
		MaxDailyLoss: decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxPositions: cfg.Risk.MaxPositions,
	}, breaker, tracker, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "tick",
		MaxWorkers:  cfg.Concurrency.TickPoolSize,
		MaxCapacity: cfg.Concurrency.TickPoolBuffer,
		NonBlocking: true,
	}, logger)
	defer pool.Stop()

	eng := engine.New(engine.Config{
		Symbols:      cfg.App.Symbols,
		TickInterval: cfg.TickInterval(),
		HistoryBars:  cfg.Strategy.HistoryBars,
		TradeAmount:  decimal.NewFromFloat(cfg.Trading.TradeAmount),
		QuoteAsset:   cfg.App.QuoteAsset,
	}, market, gateway, account, notifier, signals, riskMgr, tracker, stateStore, pool, logger)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Restore(startCtx); err != nil {
		cancel()
		logger.Fatal("failed to restore state", "error", err)
	}
	cancel()

	// Observability endpoints.
	healthMgr := health.NewManager(logger)
	healthMgr.Register("engine", eng.CheckHealth)
	if !cfg.App.Sandbox {
		healthMgr.Register("exchange", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return binanceClient.CheckHealth(ctx)
		})
	}
	if cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(cfg.Telemetry.MetricsPort, healthMgr, logger)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}

	if err := app.Run(eng); err != nil {
		os.Exit(1)
	}
}
