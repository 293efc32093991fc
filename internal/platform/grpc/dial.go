// Package grpc holds client helpers shared by the ledger's gRPC callers.
package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Connector opens a client connection. gogrpc.NewClient satisfies it.
type Connector func(target string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Phase names the step of Connect that failed.
type Phase string

const (
	// PhaseConnect covers building the client connection.
	PhaseConnect Phase = "connect"
	// PhaseHealth covers waiting for the health check to report SERVING.
	PhaseHealth Phase = "health"
)

// ConnectError reports where Connect gave up.
type ConnectError struct {
	Addr  string
	Phase Phase
	Err   error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "gRPC connect error"
	}
	return fmt.Sprintf("gRPC %s %s: %v", e.Phase, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClientOptions returns the plaintext dial options used inside the
// deployment network. Outbound calls carry trace context through otelgrpc.
func ClientOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// ConnectConfig tunes Connect. The zero value uses gogrpc.NewClient,
// ClientOptions and the overall health check of the server.
type ConnectConfig struct {
	Connector Connector
	Options   []gogrpc.DialOption
	// Timeout bounds the health wait. Zero leaves only ctx in charge.
	Timeout time.Duration
	// Service is the health check service name; empty checks the server.
	Service string
	Logf    func(string, ...any)
}

// Connect opens a connection to addr and returns once its health check
// reports SERVING. The connection is closed when the wait fails.
func Connect(ctx context.Context, addr string, cfg ConnectConfig) (*gogrpc.ClientConn, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, &ConnectError{Phase: PhaseConnect, Err: fmt.Errorf("address is required")}
	}
	connector := cfg.Connector
	if connector == nil {
		connector = gogrpc.NewClient
	}
	opts := cfg.Options
	if opts == nil {
		opts = ClientOptions()
	}
	conn, err := connector(addr, opts...)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Phase: PhaseConnect, Err: err}
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := WaitForHealth(waitCtx, conn, cfg.Service, cfg.Logf); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Addr: addr, Phase: PhaseHealth, Err: err}
	}
	return conn, nil
}
