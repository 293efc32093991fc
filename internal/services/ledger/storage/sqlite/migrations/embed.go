// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

// FS holds the ledger schema history.
//
//go:embed *.sql
var FS embed.FS
