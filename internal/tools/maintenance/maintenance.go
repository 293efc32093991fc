// Package maintenance verifies ledger event chains and rebuilds the link
// projection from stream history.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/coordinator"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
	"github.com/kilnline/ledger/internal/services/ledger/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	TenantID     string
	AggregateIDs string
	DBPath       string
	Timeout      time.Duration
	Verify       bool
	Reconcile    bool
	WarningsCap  int
	JSONOutput   bool
	Integrity    integrity.Config
}

type envConfig struct {
	DBPath    string        `env:"DB_PATH"`
	Timeout   time.Duration `env:"MAINTENANCE_TIMEOUT" envDefault:"10m"`
	Integrity integrity.Config
}

// maintenanceStore is the storage surface maintenance runs against.
type maintenanceStore interface {
	storage.Store
	storage.StreamLister
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := config.ParseEnvPrefixed(&envCfg, config.EnvPrefix); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:      envCfg.DBPath,
		Timeout:     envCfg.Timeout,
		WarningsCap: 25,
		Integrity:   envCfg.Integrity,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "ledger.db")
	}

	fs.StringVar(&cfg.TenantID, "tenant-id", "", "limit maintenance to one tenant")
	fs.StringVar(&cfg.AggregateIDs, "aggregate-ids", "", "comma-separated aggregate IDs (requires -tenant-id)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the ledger sqlite database (default: KILNLINE_LEDGER_DB_PATH or data/ledger.db)")
	fs.BoolVar(&cfg.Verify, "verify", false, "verify event hash chains and signatures")
	fs.BoolVar(&cfg.Reconcile, "reconcile", false, "rebuild the link projection and finish interrupted cancellations")
	fs.IntVar(&cfg.WarningsCap, "warnings-cap", cfg.WarningsCap, "max warnings to print (0 = no limit)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	keyring, err := loadKeyring(cfg.Integrity)
	if err != nil {
		return err
	}
	if keyring == nil && cfg.Verify && errOut != nil {
		fmt.Fprintln(errOut, "Warning: no event key configured; signatures are not checked")
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	opts := []sqlite.Option{}
	if keyring != nil {
		opts = append(opts, sqlite.WithKeyring(keyring))
	}
	store, err := sqlite.Open(ctx, cfg.DBPath, opts...)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	return runWithDeps(ctx, cfg, store, keyring, out, errOut)
}

func validateConfig(cfg Config) error {
	if !cfg.Verify && !cfg.Reconcile {
		return errors.New("-verify or -reconcile is required")
	}
	if strings.TrimSpace(cfg.AggregateIDs) != "" && strings.TrimSpace(cfg.TenantID) == "" {
		return errors.New("-aggregate-ids requires -tenant-id")
	}
	if cfg.WarningsCap < 0 {
		return errors.New("-warnings-cap must be >= 0")
	}
	return nil
}

// loadKeyring returns nil when no key is configured, so chains can still be
// checked without signatures.
func loadKeyring(cfg integrity.Config) (*integrity.Keyring, error) {
	if strings.TrimSpace(cfg.Key) == "" && strings.TrimSpace(cfg.Keys) == "" {
		return nil, nil
	}
	keyring, err := integrity.KeyringFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("load event keyring: %w", err)
	}
	return keyring, nil
}

// runWithDeps contains the core maintenance logic with injectable
// dependencies. It owns the store and closes it on return.
func runWithDeps(ctx context.Context, cfg Config, store maintenanceStore, keyring *integrity.Keyring, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close store: %v\n", err)
		}
	}()

	if err := validateConfig(cfg); err != nil {
		return err
	}
	streams, err := selectStreams(ctx, store, cfg.TenantID, splitCSV(cfg.AggregateIDs))
	if err != nil {
		return err
	}

	var coord *coordinator.Coordinator
	if cfg.Reconcile {
		coord, err = newCoordinator(store)
		if err != nil {
			return err
		}
	}

	failed := false
	for _, mode := range modes(cfg) {
		var result runResult
		switch mode {
		case modeVerify:
			result = verifyStreams(ctx, store, keyring, streams)
		case modeReconcile:
			result = reconcileStreams(ctx, coord, streams)
		}
		result.Warnings, result.WarningsTotal = capWarnings(result.Warnings, cfg.WarningsCap)
		if cfg.JSONOutput {
			outputJSON(out, errOut, result)
		} else {
			printResult(out, errOut, result)
		}
		if result.ExitCode != 0 {
			failed = true
		}
	}
	if failed {
		return errors.New("maintenance failed")
	}
	return nil
}

const (
	modeVerify    = "verify"
	modeReconcile = "reconcile"
)

func modes(cfg Config) []string {
	var out []string
	if cfg.Verify {
		out = append(out, modeVerify)
	}
	if cfg.Reconcile {
		out = append(out, modeReconcile)
	}
	return out
}

type verifyReport struct {
	Streams int `json:"streams"`
	Events  int `json:"events"`
	Broken  int `json:"broken"`
}

type reconcileReport struct {
	Streams  int `json:"streams"`
	Links    int `json:"links"`
	Repaired int `json:"repaired"`
	Cascades int `json:"cascades"`
	Failed   int `json:"failed"`
}

type runResult struct {
	Mode          string          `json:"mode"`
	Report        json.RawMessage `json:"report,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	WarningsTotal int             `json:"warnings_total,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExitCode      int             `json:"-"`
}

// selectStreams returns the streams to process: every stream, one tenant's,
// or the named aggregates of one tenant.
func selectStreams(ctx context.Context, store maintenanceStore, tenantID string, aggregateIDs []string) ([]storage.AggregateRecord, error) {
	tenantID = strings.TrimSpace(tenantID)
	if len(aggregateIDs) > 0 {
		records := make([]storage.AggregateRecord, 0, len(aggregateIDs))
		for _, aggregateID := range aggregateIDs {
			rec, err := store.GetAggregate(ctx, tenantID, aggregateID)
			if err != nil {
				return nil, fmt.Errorf("load aggregate %s: %w", aggregateID, err)
			}
			records = append(records, rec)
		}
		return records, nil
	}
	all, err := store.ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	if tenantID == "" {
		return all, nil
	}
	records := all[:0]
	for _, rec := range all {
		if rec.TenantID == tenantID {
			records = append(records, rec)
		}
	}
	return records, nil
}

func verifyStreams(ctx context.Context, store storage.EventStore, keyring *integrity.Keyring, streams []storage.AggregateRecord) runResult {
	result := runResult{Mode: modeVerify}
	report := verifyReport{Streams: len(streams)}
	for _, rec := range streams {
		count, err := storage.VerifyStream(ctx, store, keyring, rec.TenantID, rec.AggregateID)
		report.Events += count
		if err != nil {
			report.Broken++
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s/%s: %v", rec.TenantID, rec.AggregateID, err))
		}
	}
	if report.Broken > 0 {
		result.ExitCode = 1
	}
	return encodeReport(result, report)
}

func reconcileStreams(ctx context.Context, coord *coordinator.Coordinator, streams []storage.AggregateRecord) runResult {
	result := runResult{Mode: modeReconcile}
	report := reconcileReport{Streams: len(streams)}
	for _, rec := range streams {
		got, err := coord.ReconcileLinks(ctx, rec.TenantID, rec.AggregateID)
		report.Links += got.Links
		report.Repaired += got.Repaired
		report.Cascades += got.Cascades
		if err != nil {
			report.Failed++
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s/%s: %v", rec.TenantID, rec.AggregateID, err))
		}
	}
	if report.Failed > 0 {
		result.ExitCode = 1
	}
	return encodeReport(result, report)
}

func encodeReport(result runResult, report any) runResult {
	payload, err := json.Marshal(report)
	if err != nil {
		result.Error = fmt.Sprintf("encode report: %v", err)
		result.ExitCode = 1
		return result
	}
	result.Report = payload
	return result
}

// newCoordinator builds a coordinator over store. Maintenance runs offline,
// so state is folded from the journal without a snapshot cache.
func newCoordinator(store maintenanceStore) (*coordinator.Coordinator, error) {
	commands, events, err := aggregate.Registries()
	if err != nil {
		return nil, err
	}
	handler := &engine.Handler{
		Commands:  commands,
		Events:    events,
		Store:     store,
		Snapshots: checkpoint.NewNoop(),
		Locks:     engine.NewKeyedMutex(),
	}
	return &coordinator.Coordinator{
		Engine: handler,
		Events: store,
		Links:  store,
		KPI:    store,
	}, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		output = append(output, trimmed)
	}
	return output
}

func capWarnings(warnings []string, limit int) ([]string, int) {
	total := len(warnings)
	if limit == 0 || total <= limit {
		return warnings, total
	}
	return warnings[:limit], total
}

func outputJSON(out io.Writer, errOut io.Writer, result runResult) {
	encoded, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(errOut, "Error: encode report: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(encoded))
}

func printResult(out io.Writer, errOut io.Writer, result runResult) {
	if result.Error != "" {
		fmt.Fprintf(errOut, "Error: %s\n", result.Error)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(errOut, "Warning: %s\n", warning)
	}
	if result.WarningsTotal > len(result.Warnings) {
		fmt.Fprintf(errOut, "Warning: %d more warnings suppressed\n", result.WarningsTotal-len(result.Warnings))
	}
	if len(result.Report) == 0 {
		return
	}
	switch result.Mode {
	case modeVerify:
		var report verifyReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "Error: decode report: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Verified %d events across %d streams (%d broken)\n", report.Events, report.Streams, report.Broken)
	case modeReconcile:
		var report reconcileReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "Error: decode report: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Reconciled %d links across %d streams (%d repaired, %d cascades, %d failed)\n",
			report.Links, report.Streams, report.Repaired, report.Cascades, report.Failed)
	}
}
