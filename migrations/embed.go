// Package migrations holds the goose SQL migrations of the PostgreSQL schema.
package migrations

import "embed"

// FS contains the migration files, embedded into every binary that needs them
//
//go:embed *.sql
var FS embed.FS
