// Package migrations embeds the bridge's SQL migrations into the binary.
//
// Importing this package (usually for side effects from main) registers
// the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
