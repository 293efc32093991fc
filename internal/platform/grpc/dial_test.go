package grpc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestConnectWaitsForService(t *testing.T) {
	f := newHealthFixture(t, grpc_health_v1.HealthCheckResponse_SERVING)
	conn, err := Connect(context.Background(), " "+f.addr+" ", ConnectConfig{
		Timeout: 2 * time.Second,
		Service: "ledger.v1.LedgerService",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestConnectTimeoutBoundsHealthWait(t *testing.T) {
	f := newHealthFixture(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	start := time.Now()
	conn, err := Connect(context.Background(), f.addr, ConnectConfig{Timeout: 200 * time.Millisecond})
	if conn != nil {
		t.Fatal("expected nil connection on failure")
	}
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) || connectErr.Phase != PhaseHealth {
		t.Fatalf("err = %v, want health phase", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("health wait took %v", elapsed)
	}
}

func TestConnectReportsConnectorFailure(t *testing.T) {
	boom := errors.New("bad target")
	var gotOpts int
	_, err := Connect(context.Background(), "ledger:8090", ConnectConfig{
		Connector: func(target string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
			gotOpts = len(opts)
			return nil, boom
		},
	})
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) || connectErr.Phase != PhaseConnect || connectErr.Addr != "ledger:8090" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err does not wrap connector failure: %v", err)
	}
	if gotOpts != len(ClientOptions()) {
		t.Fatalf("connector got %d options, want defaults", gotOpts)
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	_, err := Connect(context.Background(), "  ", ConnectConfig{})
	if err == nil || !strings.Contains(err.Error(), "address is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestConnectErrorNilSafe(t *testing.T) {
	var nilErr *ConnectError
	if nilErr.Error() == "" || nilErr.Unwrap() != nil {
		t.Fatal("nil ConnectError should format and unwrap to nil")
	}
}
