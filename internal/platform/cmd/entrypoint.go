// Package cmd holds the startup plumbing shared by ledger commands.
package cmd

import (
	"context"
	"errors"
	"flag"

	"go.uber.org/zap"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/platform/otel"
	"github.com/kilnline/ledger/internal/platform/timeouts"
)

// Service names reported as the trace resource service.name.
const (
	ServiceLedger      = "ledger"
	ServiceMaintenance = "maintenance"
)

// ParseConfig loads KILNLINE_LEDGER_ prefixed environment defaults into cfg.
// Flags parsed afterwards override them.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnvPrefixed(cfg, config.EnvPrefix)
}

// ParseArgs parses args into fs. A nil args slice parses nothing.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag set is required")
	}
	return fs.Parse(append([]string{}, args...))
}

// RunWithTelemetry sets up tracing for service, runs run, and flushes traces
// once run returns. Flush failures are logged, not returned.
func RunWithTelemetry(ctx context.Context, service string, logger *zap.Logger, run func(context.Context) error) error {
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("flush traces", zap.String("service", service), zap.Error(err))
		}
	}()
	return run(ctx)
}
