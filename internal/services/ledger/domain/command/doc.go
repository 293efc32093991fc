// Package command defines the command envelope, the registry that validates
// commands before decision, and the Decision a decider returns.
//
// Deciders are pure: they receive folded state, a validated command and a
// clock, and either accept with events or reject with coded reasons. They
// never touch storage.
package command
