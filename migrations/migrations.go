// Package migrations embeds the PostgreSQL schema of the item store.
//
// Files are named NNNNNN_description.up.sql / .down.sql and are applied in
// lexical order by itemstore.Migrate.
package migrations

import "embed"

// FS holds every migration file.
//
//go:embed *.sql
var FS embed.FS
