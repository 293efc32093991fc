// Package engine executes commands against event-sourced aggregates.
//
// A command is validated, serialized per aggregate, checked for an earlier
// run under the same correlation id, decided against state rebuilt from a
// snapshot plus the tail of the history, and appended with the version it
// was decided against. A lost version race reloads and decides again.
package engine
