// Package timeouts defines shared timeout constants used by ledger processes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the ledger service.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long the metrics HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// AppendRetryBackoff is the base delay between optimistic append retries.
const AppendRetryBackoff = 5 * time.Millisecond
