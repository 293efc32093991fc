// Package integrity signs the per-aggregate event hash chain so a stored
// history can be checked for tampering and reordering.
package integrity
