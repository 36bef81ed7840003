// Package migrations embeds the SQL migration files so every binary can run
// them without a copy of the repo on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
