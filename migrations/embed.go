// Package migrations embeds the SQL schema migrations, applied in numeric order by
// startup.Migrate.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
