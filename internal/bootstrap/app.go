// Package bootstrap wires configuration, logging and lifecycle
// management for the bot's entrypoints.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tradebot/internal/core"
)

// App holds configuration and the root logger for an entrypoint.
type App struct {
	Cfg    *Config
	Logger core.ILogger
}

// NewApp loads configuration and initializes logging.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	return &App{Cfg: cfg, Logger: logger}, nil
}

// Runner is a component with a blocking Run that honors context
// cancellation.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts every runner in an error group and blocks until all of
// them return or a termination signal arrives. A context.Canceled from
// a runner during shutdown is treated as a clean exit.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
