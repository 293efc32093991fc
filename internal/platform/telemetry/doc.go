// Package telemetry groups the operational observability of the ledger.
//
// The event journal is the business record and lives in the storage layer.
// Operational signals (command rates, latency, append conflicts) live in
// telemetry/metrics and are exported to Prometheus. Keeping them apart lets
// the journal stay append-only while metrics are free to be sampled, reset or
// dropped.
package telemetry
