package db

import "embed"

// MigrationFS embeds the SQL migrations for users, sessions, two-factor secrets and audit logs.
// Applied by internal/db/migrate from cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
