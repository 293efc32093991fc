package otel

import (
	"context"
	"strings"
	"testing"
)

func TestConfigActive(t *testing.T) {
	cases := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{Endpoint: "http://collector:4318"}, true},
		{Config{Endpoint: "http://collector:4318", Enabled: " FALSE "}, false},
		{Config{Endpoint: "  ", Enabled: "true"}, false},
	}
	for _, tc := range cases {
		if got := tc.cfg.active(); got != tc.want {
			t.Errorf("%+v active = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	t.Setenv("KILNLINE_LEDGER_OTEL_ENDPOINT", "")
	shutdown, err := Setup(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupExportsWhenEndpointSet(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation; nothing answers there.
	t.Setenv("KILNLINE_LEDGER_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("KILNLINE_LEDGER_OTEL_SAMPLE_RATIO", "0.25")
	shutdown, err := Setup(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRejectsBadSampleRatio(t *testing.T) {
	t.Setenv("KILNLINE_LEDGER_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("KILNLINE_LEDGER_OTEL_SAMPLE_RATIO", "1.5")
	if _, err := Setup(context.Background(), "ledger"); err == nil || !strings.Contains(err.Error(), "sample ratio") {
		t.Fatalf("err = %v", err)
	}
}
