// Package migrations holds the bun migrations for the Postgres schema. Each
// migration lives in its own file; bun derives the migration name from it.
package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

func exec(sql string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, sql)
		return err
	}
}
