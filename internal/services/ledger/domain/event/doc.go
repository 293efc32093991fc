// Package event defines the immutable ledger event envelope, the closed
// vocabulary of aggregate and event types, and the registry that validates
// events before they are appended.
//
// Events are per aggregate: Seq orders them within one aggregate and no
// ordering is defined across aggregates. Payloads are canonical JSON so the
// integrity hash of an event is stable across processes.
package event
