// Package migrations embeds the SQL schema so the service needs no files
// beside the binary.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
