// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationDef is a schema migration compiled into the binary. The client
// runs on devices with no network access at first launch, so migrations
// cannot be fetched from anywhere.
type migrationDef struct {
	version     int
	description string
	statements  []string
}

var migrations = []migrationDef{
	{
		version:     1,
		description: "outbound queue",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS outbound_queue (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL,
				payload_text TEXT NOT NULL,
				payload_language TEXT NOT NULL,
				audio_payload BLOB,
				enqueued_at INTEGER NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'pending',
				last_error TEXT NOT NULL DEFAULT ''
			);`,
			`CREATE INDEX IF NOT EXISTS idx_queue_status ON outbound_queue(status);`,
			`CREATE INDEX IF NOT EXISTS idx_queue_conversation ON outbound_queue(conversation_id);`,
			`CREATE INDEX IF NOT EXISTS idx_queue_enqueued_at ON outbound_queue(enqueued_at);`,
		},
	},
	{
		version:     2,
		description: "reference data cache",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS price_quotes (
				commodity TEXT PRIMARY KEY,
				price_per_unit REAL NOT NULL,
				unit TEXT NOT NULL,
				currency TEXT NOT NULL,
				market_name TEXT NOT NULL,
				write_time INTEGER NOT NULL,
				expires_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_quotes_expires_at ON price_quotes(expires_at);`,
			`CREATE TABLE IF NOT EXISTS phrase_templates (
				id TEXT PRIMARY KEY,
				language TEXT NOT NULL,
				category TEXT NOT NULL,
				text TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_templates_language ON phrase_templates(language);`,
			`CREATE INDEX IF NOT EXISTS idx_templates_category ON phrase_templates(category);`,
			`CREATE TABLE IF NOT EXISTS transaction_records (
				id TEXT PRIMARY KEY,
				buyer_id TEXT NOT NULL,
				seller_id TEXT NOT NULL,
				commodity TEXT NOT NULL,
				quantity REAL NOT NULL,
				unit TEXT NOT NULL,
				agreed_price REAL NOT NULL,
				currency TEXT NOT NULL,
				completed_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_tx_buyer ON transaction_records(buyer_id);`,
			`CREATE INDEX IF NOT EXISTS idx_tx_seller ON transaction_records(seller_id);`,
			`CREATE INDEX IF NOT EXISTS idx_tx_commodity ON transaction_records(commodity);`,
			`CREATE INDEX IF NOT EXISTS idx_tx_completed_at ON transaction_records(completed_at);`,
			`CREATE TABLE IF NOT EXISTS user_settings (
				user_id TEXT PRIMARY KEY,
				preferred_language TEXT NOT NULL DEFAULT 'sw',
				voice_speed REAL NOT NULL DEFAULT 1.0,
				text_only INTEGER NOT NULL DEFAULT 0,
				auto_sync INTEGER NOT NULL DEFAULT 1,
				updated_at INTEGER NOT NULL
			);`,
		},
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in version order.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for _, mig := range applied {
		appliedVersions[mig.Version] = true
	}

	for _, def := range migrations {
		if appliedVersions[def.version] {
			continue
		}
		if err := m.apply(def); err != nil {
			return fmt.Errorf("migration V%d (%s) failed: %w", def.version, def.description, err)
		}
	}

	return nil
}

// apply runs one migration inside a transaction and records it.
func (m *Migrator) apply(def migrationDef) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range def.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		def.version, time.Now().Unix(), def.description, def.checksum(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// checksum hashes the migration statements so a changed migration is
// detectable against the recorded history.
func (def migrationDef) checksum() string {
	h := sha256.Sum256([]byte(strings.Join(def.statements, "\n")))
	return hex.EncodeToString(h[:])
}

// Verify checks recorded checksums against the compiled-in migrations.
func (m *Migrator) Verify() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}

	defs := make(map[int]migrationDef, len(migrations))
	for _, def := range migrations {
		defs[def.version] = def
	}

	for _, mig := range applied {
		def, ok := defs[mig.Version]
		if !ok {
			return fmt.Errorf("applied migration V%d is unknown to this build", mig.Version)
		}
		if def.checksum() != mig.Checksum {
			return fmt.Errorf("migration V%d checksum mismatch", mig.Version)
		}
	}

	return nil
}
