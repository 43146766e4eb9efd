package migrations

import _ "embed"

//go:embed sql/2025010501_create_session_results.up.sql
var createSessionResultsSQL string

func init() {
	Migrations.MustRegister(
		exec(createSessionResultsSQL),
		exec(`DROP TABLE IF EXISTS xp_awards; DROP TABLE IF EXISTS session_results`),
	)
}
