// Package stage holds what the stage aggregates (stockpile, run, batch,
// pallet, shipment, invoice, payment) share: the common state core, the
// link and quantity payloads, status gating, cancel cascades, and the
// mapping from ledger errors to coded rejections.
//
// Each stage package keeps its own vocabulary table, fold and decider; this
// package only removes the repetition between them.
package stage
