// Package metrics provides the ledger's Prometheus collectors.
//
// # Metric Categories
//
//   - ledger_commands_total: command outcomes by aggregate type and result
//   - ledger_command_duration_seconds: command latency histogram
//   - ledger_append_conflicts_total: optimistic version conflicts on append
//   - ledger_compensations_total: coordinator saga compensations by operation
//
// A nil *Metrics is valid and records nothing.
package metrics
