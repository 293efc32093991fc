package grpc

import (
	"context"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthProbeTimeout = time.Second
	healthPollFirst    = 100 * time.Millisecond
	healthPollMax      = time.Second
)

// WaitForHealth polls the health service until service reports SERVING or
// ctx ends. logf, when set, hears about each status change.
func WaitForHealth(ctx context.Context, conn gogrpc.ClientConnInterface, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	client := grpc_health_v1.NewHealthClient(conn)
	wait := healthPollFirst
	last := ""
	for {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		resp, err := client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()

		seen := resp.GetStatus().String()
		if err != nil {
			seen = err.Error()
		}
		if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			logf("health %q is SERVING", service)
			return nil
		}
		if seen != last {
			logf("waiting for health %q: %s", service, seen)
			last = seen
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for health %q: %w", service, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, healthPollMax)
	}
}
