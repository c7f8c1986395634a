// Package migrations embeds the publisher's SQL migration files into the
// binary so the schema can be created without files on disk.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
