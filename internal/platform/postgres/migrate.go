package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"tenantguard/internal/isolation/policy"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// AppRole is the NOLOGIN role that owns the application's grants. Login roles
// used by the service are created with IN ROLE AppRole.
const AppRole = "tenantguard_app"

func init() {
	goose.AddNamedMigrationContext("00004_row_policies.go", upRowPolicies, downRowPolicies)
}

// upRowPolicies renders the manifest into ENABLE/FORCE and per-command
// policies.
func upRowPolicies(ctx context.Context, tx *sql.Tx) error {
	stmts, err := policy.Default.AllStatements()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply row policy: %w", err)
		}
	}
	return nil
}

func downRowPolicies(ctx context.Context, tx *sql.Tx) error {
	for _, name := range policy.Default.Names() {
		for _, stmt := range policy.Default.DropStatements(name) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop row policy: %w", err)
			}
		}
	}
	return nil
}

func prepareGoose(log *slog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	if log != nil {
		goose.SetLogger(gooseLogger{log: log})
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending migrations. db must connect as the schema owner,
// not as the application role.
func Migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	if err := prepareGoose(nil); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}

type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
	os.Exit(1)
}
