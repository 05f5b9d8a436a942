// Package migrations holds the ledger schema as goose Go migrations.
package migrations

import "embed"

// FS exposes the migration sources so goose can match registered Go
// migrations without depending on the working directory.
//
//go:embed *.go
var FS embed.FS
