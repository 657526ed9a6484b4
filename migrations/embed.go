// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// FS embeds all .sql migration files in this directory.
//
//go:embed *.sql
var FS embed.FS
