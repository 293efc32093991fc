// Package seed parses seed command flags and loads the demo flow.
package seed

import (
	"context"
	"flag"
	"io"
	"strings"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/platform/discovery"
	"github.com/kilnline/ledger/internal/tools/seed"
)

// Config holds seed command configuration.
type Config = seed.Config

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := seed.DefaultConfig()
	cfg.GRPCAddr = discovery.OrDefaultGRPCAddr(envOrDefault(lookup, config.EnvPrefix+"GRPC_ADDR", ""), discovery.ServiceLedger)
	cfg.TenantID = envOrDefault(lookup, config.EnvPrefix+"SEED_TENANT", cfg.TenantID)

	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "ledger server address")
	fs.StringVar(&cfg.TenantID, "tenant", cfg.TenantID, "tenant to seed")
	fs.StringVar(&cfg.ActorRole, "actor-role", cfg.ActorRole, "actor role recorded on seeded events")
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "aggregate and correlation id prefix")
	fs.BoolVar(&cfg.Verbose, "v", false, "verbose output")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	return seed.Run(ctx, cfg, out)
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
