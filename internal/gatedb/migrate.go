package gatedb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/apiary-data/forager.report/internal/monitoring"
)

// Migrations are embedded so a deployed binary can upgrade its database
// without shipping the .sql files alongside it.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// OpenWithoutSchema opens the database without applying the embedded
// schema. The migrate CLI uses this so golang-migrate alone manages the
// schema state.
func OpenWithoutSchema(path string) (*GateDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &GateDB{db}, nil
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (gdb *GateDB) MigrateUp() error {
	m, err := gdb.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.
	// The migrate instance will be garbage collected when no longer needed.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

// MigrateDown rolls back the most recent migration.
func (gdb *GateDB) MigrateDown() error {
	m, err := gdb.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (gdb *GateDB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := gdb.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		// No migrations applied yet
		return 0, false, nil
	}

	return version, dirty, err
}

// MigrateForce forces the migration version to a specific value.
// This should only be used to recover from a dirty migration state.
func (gdb *GateDB) MigrateForce(version int) error {
	m, err := gdb.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}

	return nil
}

// MigrateTo migrates up or down to a specific version.
func (gdb *GateDB) MigrateTo(version uint) error {
	m, err := gdb.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}

	return nil
}

// newMigrate creates a migrate instance backed by the embedded
// migration files and this database connection.
func (gdb *GateDB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(gdb.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// ensureSchemaMigrationsTable ensures the schema_migrations table exists.
// golang-migrate creates it on demand; baselining needs it up front.
func (gdb *GateDB) ensureSchemaMigrationsTable() error {
	_, err := gdb.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	return err
}

// BaselineAtVersion creates a schema_migrations entry at the specified
// version without running any migrations. This is for existing databases
// that already carry the schema from that version.
func (gdb *GateDB) BaselineAtVersion(version uint) error {
	if err := gdb.ensureSchemaMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	err := gdb.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("database already has migrations applied, cannot baseline")
	}

	_, err = gdb.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version)
	if err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}

	monitoring.Logf("Database baselined at version %d", version)
	return nil
}

// GetMigrationStatus returns a summary of the migration status including
// current version, dirty state, and whether the migrations table exists.
func (gdb *GateDB) GetMigrationStatus() (map[string]interface{}, error) {
	version, dirty, err := gdb.MigrateVersion()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	}

	status := map[string]interface{}{
		"current_version": version,
		"dirty":           dirty,
	}

	var tableExists bool
	err = gdb.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&tableExists)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	status["schema_migrations_exists"] = tableExists

	return status, nil
}

// LatestMigrationVersion returns the highest version among the embedded
// migration files.
func LatestMigrationVersion() (uint, error) {
	entries, err := fs.Glob(migrationsFS, migrationsDir+"/*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	if len(entries) == 0 {
		return 0, fmt.Errorf("no migration files embedded")
	}

	var maxVersion uint
	for _, entry := range entries {
		var version uint
		// Migration files follow format: migrations/000001_name.up.sql
		if _, err := fmt.Sscanf(entry, migrationsDir+"/%d_", &version); err == nil {
			if version > maxVersion {
				maxVersion = version
			}
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("could not determine latest migration version")
	}

	return maxVersion, nil
}

// CheckMigrations compares the database's migration version against the
// latest embedded migration. It returns an error when the schema is out
// of date or dirty, instructing the operator to run the migrate
// subcommand rather than silently upgrading a production database.
func (gdb *GateDB) CheckMigrations() error {
	currentVersion, dirty, err := gdb.MigrateVersion()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest migration version: %w", err)
	}

	if currentVersion == latestVersion && !dirty {
		return nil
	}

	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d). Run 'forager migrate status' to diagnose", currentVersion)
	}

	if currentVersion > latestVersion {
		return fmt.Errorf("database version (%d) is ahead of latest migration (%d). This should not happen", currentVersion, latestVersion)
	}

	// A fresh database gets the baseline schema on open; record the
	// matching migration version so later upgrades apply cleanly.
	if currentVersion == 0 {
		if err := gdb.BaselineAtVersion(latestVersion); err != nil {
			return fmt.Errorf("failed to baseline fresh database: %w", err)
		}
		return nil
	}

	monitoring.Logf("Database schema version mismatch detected!")
	monitoring.Logf("   Current database version: %d", currentVersion)
	monitoring.Logf("   Latest available version: %d", latestVersion)
	monitoring.Logf("   Outstanding migrations: %d", latestVersion-currentVersion)
	monitoring.Logf("To apply the outstanding migrations, run: forager migrate up")

	return fmt.Errorf("database schema is out of date (version %d, need %d). Please run migrations", currentVersion, latestVersion)
}
