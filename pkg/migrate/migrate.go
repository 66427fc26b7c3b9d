package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

const (
	DefaultDir = "pkg/migrate/migrations"
	dialect    = "postgres"
)

// RequiredTables are the tables the payment services refuse to start without.
var RequiredTables = []string{
	"payment_intents",
	"orders",
	"subscriptions",
	"tips",
	"outbox_events",
	"outbox_dlq",
}

// Commands accepted by Run. version is handled by MigrateToVersion.
var supportedCommands = map[string]struct{}{
	"up":         {},
	"up-by-one":  {},
	"down":       {},
	"redo":       {},
	"status":     {},
	"reset":      {},
	"fix":        {},
	"validate":   {},
	"create":     {},
	"version":    {},
	"db-version": {},
}

var dialectOnce sync.Once
var dialectErr error

func setDialect() error {
	dialectOnce.Do(func() {
		dialectErr = goose.SetDialect(dialect)
	})
	if dialectErr != nil {
		return fmt.Errorf("set goose dialect: %w", dialectErr)
	}
	return nil
}

// IsSupportedCommand reports whether cmd is a known migrate command.
func IsSupportedCommand(cmd string) bool {
	_, ok := supportedCommands[cmd]
	return ok
}

// Run executes a goose command that requires a DB connection.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if !IsSupportedCommand(command) {
		return fmt.Errorf("unsupported goose command %q", command)
	}
	if err := setDialect(); err != nil {
		return err
	}

	if command == "db-version" {
		command = "version"
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down to targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	target, err := parseVersion(targetVersion)
	if err != nil {
		return err
	}
	if err := setDialect(); err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}

func parseVersion(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("target version is required")
	}
	if len(value) != len(versionLayout) {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", value)
	}
	version, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", value, err)
	}
	return version, nil
}

// VerifySchema reports every required table missing from the connected database.
func VerifySchema(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	var missing []string
	migrator := db.Migrator()
	for _, table := range RequiredTables {
		if !migrator.HasTable(table) {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing tables: %v", missing)
	}
	return nil
}
