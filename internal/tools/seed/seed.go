// Package seed loads a demo production flow into a running ledger over gRPC.
//
// Every step carries a fixed correlation id so a second run against the same
// database replays instead of duplicating quantity.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/kilnline/ledger/internal/platform/discovery"
	platformgrpc "github.com/kilnline/ledger/internal/platform/grpc"
	"github.com/kilnline/ledger/internal/platform/timeouts"
	ledgergrpc "github.com/kilnline/ledger/internal/services/ledger/api/grpc/ledger"
	grpcmeta "github.com/kilnline/ledger/internal/services/ledger/api/grpc/metadata"
)

// Config holds seed configuration.
type Config struct {
	GRPCAddr  string
	TenantID  string
	ActorRole string
	// Prefix namespaces aggregate ids and correlation ids so several demo
	// flows can live in one tenant.
	Prefix  string
	Verbose bool
}

// DefaultConfig returns the local development defaults.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:  discovery.DefaultGRPCAddr(discovery.ServiceLedger),
		TenantID:  "demo",
		ActorRole: "planner",
		Prefix:    "demo",
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if strings.TrimSpace(c.TenantID) == "" {
		errs = append(errs, errors.New("tenant id is required"))
	}
	if strings.TrimSpace(c.Prefix) == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	return errors.Join(errs...)
}

// Caller sends one ledger method call. ledgergrpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (map[string]any, error)
}

// Step is one ledger call in the demo flow.
type Step struct {
	Name    string
	Method  string
	Request map[string]any
}

// Aggregates names the demo aggregates created under a prefix.
type Aggregates struct {
	Stockpile string
	Run       string
	Batch     string
	Pallet    string
	Shipment  string
}

// DemoAggregates returns the aggregate ids for prefix.
func DemoAggregates(prefix string) Aggregates {
	return Aggregates{
		Stockpile: prefix + "-clay",
		Run:       prefix + "-run",
		Batch:     prefix + "-kiln",
		Pallet:    prefix + "-pallet",
		Shipment:  prefix + "-shipment",
	}
}

// DemoSteps returns the flow from raw clay through a dispatched shipment.
func DemoSteps(prefix string) []Step {
	ids := DemoAggregates(prefix)
	corr := func(name string) string { return prefix + "-" + name }
	execute := func(name, aggregateID, cmd string, payload map[string]any) Step {
		return Step{
			Name:   name,
			Method: "Execute",
			Request: map[string]any{
				"aggregate_id":   aggregateID,
				"command":        cmd,
				"correlation_id": corr(name),
				"payload":        payload,
			},
		}
	}
	ref := func(typ, id string) map[string]any { return map[string]any{"type": typ, "id": id} }
	input := func(name string, upstream, downstream map[string]any, quantity string) Step {
		return Step{
			Name:   name,
			Method: "AddInput",
			Request: map[string]any{
				"correlation_id": corr(name),
				"upstream":       upstream,
				"downstream":     downstream,
				"quantity":       quantity,
				"reference":      "seed",
			},
		}
	}

	return []Step{
		execute("clay-create", ids.Stockpile, "stockpile.create", map[string]any{"name": "dry clay"}),
		execute("clay-receive", ids.Stockpile, "stockpile.receive", map[string]any{"quantity": "80"}),
		execute("run-create", ids.Run, "run.create", map[string]any{"product": "brick-6h", "planned_units": "600"}),
		execute("run-start", ids.Run, "run.start", map[string]any{}),
		input("run-clay", ref("stockpile", ids.Stockpile), ref("run", ids.Run), "30"),
		execute("run-output", ids.Run, "run.record_output", map[string]any{"quantity": "600"}),
		execute("run-scrap", ids.Run, "run.record_scrap", map[string]any{"quantity": "20", "reason": "cracked green bricks"}),
		execute("kiln-create", ids.Batch, "batch.create", map[string]any{"product": "brick-6h", "kiln": "tunnel-2", "planned_units": "500"}),
		execute("kiln-start", ids.Batch, "batch.start", map[string]any{}),
		input("kiln-load", ref("run", ids.Run), ref("batch", ids.Batch), "500"),
		execute("kiln-output", ids.Batch, "batch.record_output", map[string]any{"quantity": "480"}),
		execute("pallet-create", ids.Pallet, "pallet.create", map[string]any{"product": "brick-6h"}),
		input("pallet-pack", ref("batch", ids.Batch), ref("pallet", ids.Pallet), "240"),
		execute("shipment-create", ids.Shipment, "shipment.create", map[string]any{"customer": "Depot Sul", "planned_units": "200"}),
		execute("shipment-start", ids.Shipment, "shipment.start", map[string]any{}),
		{
			Name:   "shipment-hold",
			Method: "Reserve",
			Request: map[string]any{
				"correlation_id": corr("shipment-hold"),
				"supply":         ref("pallet", ids.Pallet),
				"demand":         ref("shipment", ids.Shipment),
				"quantity":       "200",
			},
		},
		{
			Name:   "shipment-dispatch",
			Method: "DispatchShipment",
			Request: map[string]any{
				"correlation_id": corr("shipment-dispatch"),
				"shipment_id":    ids.Shipment,
			},
		},
	}
}

// Runner applies steps through a Caller.
type Runner struct {
	caller  Caller
	out     io.Writer
	verbose bool
}

// NewRunner creates a runner. A nil out discards progress output.
func NewRunner(caller Caller, out io.Writer, verbose bool) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{caller: caller, out: out, verbose: verbose}
}

// Report counts how the steps landed.
type Report struct {
	Applied  int
	Replayed int
}

// Apply runs steps in order and stops at the first failure.
func (r *Runner) Apply(ctx context.Context, steps []Step) (Report, error) {
	var report Report
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		reply, err := r.caller.Call(ctx, step.Method, step.Request)
		if err != nil {
			return report, fmt.Errorf("%s: %w", step.Name, err)
		}
		replayed, _ := reply["replayed"].(bool)
		if replayed {
			report.Replayed++
		} else {
			report.Applied++
		}
		if r.verbose {
			state := "applied"
			if replayed {
				state = "replayed"
			}
			fmt.Fprintf(r.out, "  %-18s %-16s %s\n", step.Name, step.Method, state)
		}
	}
	return report, nil
}

// Summarize prints the balance of each demo aggregate.
func (r *Runner) Summarize(ctx context.Context, ids Aggregates) error {
	for _, id := range []string{ids.Stockpile, ids.Run, ids.Batch, ids.Pallet, ids.Shipment} {
		reply, err := r.caller.Call(ctx, "GetBalance", map[string]any{"aggregate_id": id})
		if err != nil {
			return fmt.Errorf("balance %s: %w", id, err)
		}
		balance, _ := reply["balance"].(map[string]any)
		fmt.Fprintf(r.out, "%-16s %-10v available=%v %v\n", id, reply["status"], balance["available"], balance["unit"])
	}
	return nil
}

// Run dials the ledger and applies the demo flow for cfg.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if out == nil {
		out = io.Discard
	}
	addr := ResolveLocalFallbackAddr(ctx, cfg.GRPCAddr)
	logf := func(format string, args ...any) {
		if cfg.Verbose {
			fmt.Fprintf(out, format+"\n", args...)
		}
	}
	conn, err := platformgrpc.Connect(ctx, addr, platformgrpc.ConnectConfig{
		Timeout: timeouts.GRPCDial,
		Service: ledgergrpc.ServiceName,
		Logf:    logf,
	})
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer conn.Close()

	ctx = metadata.AppendToOutgoingContext(ctx,
		grpcmeta.TenantIDHeader, cfg.TenantID,
		grpcmeta.ActorRoleHeader, cfg.ActorRole,
	)
	runner := NewRunner(ledgergrpc.NewClient(conn), out, cfg.Verbose)
	report, err := runner.Apply(ctx, DemoSteps(cfg.Prefix))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded tenant %s: %d steps applied, %d replayed\n", cfg.TenantID, report.Applied, report.Replayed)
	return runner.Summarize(ctx, DemoAggregates(cfg.Prefix))
}
