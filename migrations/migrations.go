// Package migrations embeds the SQL that creates the postgres document table.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
