package bootstrap

import (
	"tradebot/internal/core"
	"tradebot/pkg/logging"
)

// InitLogger builds the root zap logger from configuration and installs
// it as the process-wide default.
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
