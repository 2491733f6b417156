// Package migrations embeds the SQL schema migrations applied at startup.
package migrations

import "embed"

// FS holds every NNN_description.sql file in this directory
//
//go:embed *.sql
var FS embed.FS
