package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"tradebot/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs the
// pre-flight checks on top of schema validation.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	// The state database directory must exist and be writable before
	// the engine starts, not at the first snapshot.
	dir := filepath.Dir(cfg.System.StateDBPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("state database directory does not exist: %s", dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("state database path parent is not a directory: %s", dir)
	}

	probe := filepath.Join(dir, ".tradebot-write-check")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("state database directory not writable: %s", dir)
	}
	f.Close()
	os.Remove(probe)

	return nil
}
