// Package app wires the ledger runtime: storage, engine, coordinator and the
// gRPC and metrics listeners.
package app
