// Package migrations embeds the SQL schema for the connection history
// store and registers it with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/tdsconn/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
