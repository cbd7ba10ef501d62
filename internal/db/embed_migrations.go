package db

import "embed"

// MigrationFS embeds the SQL migrations for every supported backend.
// Postgres files live under migrations/postgres, SQLite files under migrations/sqlite.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS
