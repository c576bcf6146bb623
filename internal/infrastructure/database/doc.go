// Package database owns the relational connection behind the device store.
//
// Two backends are supported behind one *DB:
//   - SQLite (github.com/mattn/go-sqlite3), the default for single-site installs.
//     One connection, WAL mode, foreign keys on.
//   - Postgres (github.com/jackc/pgx/v5/stdlib), for shared deployments.
//
// Queries are written with ? placeholders and passed through Dialect.Rebind.
// Row locks use Dialect.ForUpdate, which is empty on SQLite where the single
// writer already serialises transactions.
//
// # Migrations
//
// Migration files live in one subdirectory per dialect and are named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. The migrations package embeds
// them and registers MigrationsFS at init; Migrate applies whatever is
// pending, one transaction per file, recording versions in schema_migrations.
//
//	db, err := database.Open(ctx, database.Config{Driver: "sqlite", Path: "./data/firewatch.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
