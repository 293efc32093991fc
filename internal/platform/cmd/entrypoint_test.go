package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8090"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("KILNLINE_LEDGER_CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("KILNLINE_LEDGER_CMD_TEST_MODE", "env-mode")

	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.Address != "flag:9001" || cfg.Mode != "env-mode" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigDefaultsAndNilTarget(t *testing.T) {
	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Address != "127.0.0.1:8090" {
		t.Fatalf("address = %q", cfg.Address)
	}
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil target error")
	}
}

func TestParseArgsRequiresFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if err := ParseArgs(flag.NewFlagSet("empty", flag.ContinueOnError), nil); err != nil {
		t.Fatalf("nil args: %v", err)
	}
}

func TestRunWithTelemetry(t *testing.T) {
	t.Setenv("KILNLINE_LEDGER_OTEL_ENDPOINT", "")
	ok := func(context.Context) error { return nil }
	if err := RunWithTelemetry(context.Background(), "", nil, ok); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceLedger, nil, nil); err == nil {
		t.Fatal("expected missing run error")
	}

	want := errors.New("boom")
	ran := false
	err := RunWithTelemetry(context.Background(), ServiceMaintenance, nil, func(context.Context) error {
		ran = true
		return want
	})
	if !ran || !errors.Is(err, want) {
		t.Fatalf("ran = %v err = %v", ran, err)
	}
}
