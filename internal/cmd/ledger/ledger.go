// Package ledger parses ledger command flags and starts the server.
package ledger

import (
	"context"
	"flag"

	entrypoint "github.com/kilnline/ledger/internal/platform/cmd"
	"github.com/kilnline/ledger/internal/platform/logging"
	server "github.com/kilnline/ledger/internal/services/ledger/app"
)

// Config holds ledger command configuration.
type Config = server.Config

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The ledger server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The ledger server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the ledger sqlite database")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ledger gRPC service.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedger, logger, func(ctx context.Context) error {
		return server.Run(ctx, cfg, logger)
	})
}
