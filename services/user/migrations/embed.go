// Package migrations embeds the user service schema.
package migrations

import "embed"

// FS holds every *.up.sql file, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
