package migrations

import _ "embed"

//go:embed sql/2025010502_create_user_standings.up.sql
var createUserStandingsSQL string

func init() {
	Migrations.MustRegister(exec(createUserStandingsSQL), exec(`DROP TABLE IF EXISTS user_standings`))
}
