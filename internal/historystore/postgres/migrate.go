package postgres

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Embedding the SQL files keeps the binary self-contained the way the
// teacher's migration manager otherwise reads migrations off disk at a
// configured directory; here the directory ships inside the module.
//
//go:embed sql/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration to dsn, the way the teacher's
// MigrationManager.Up sets the goose dialect and calls goose.Up. goose
// drives through database/sql, so the pgx stdlib adapter bridges the
// pool-oriented Store to the *sql.DB goose expects; the connection used
// here is closed before returning and is never shared with Store's pool.
func Migrate(dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("applying history store migrations: %w", err)
	}
	logger.Info("history store migrations applied")
	return nil
}
