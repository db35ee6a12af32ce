package migrations

import "embed"

// FS embeds the SQL migrations of the SQLite execution, state and backup
// stores.
//
//go:embed *.sql
var FS embed.FS
