// Package acceptance runs the pallet ledger feature files against an
// in-memory engine and coordinator.
package acceptance
