package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY version DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Currently only version 1 exists
	if currentVersion != 1 {
		return fmt.Errorf("unsupported schema version: %d", currentVersion)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		schemaVersionTable,
		registryParamsTable,
		callersTable,
		callersIndexes,
		certificatesTable,
		certificatesIndexes,
		transferEventsTable,
		transferEventsIndexes,
		auditLogsTable,
		auditLogsIndexes,
		`INSERT INTO schema_version (version) VALUES (1)`,
	}
	for _, stmt := range statements {
		if err := execSQL(tx, stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to execute %q: %w", firstLine(query), err)
	}
	return nil
}

func firstLine(query string) string {
	return strings.SplitN(strings.TrimSpace(query), "\n", 2)[0]
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	registryParamsTable = `
CREATE TABLE registry_params (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    name        TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    issuer      TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	callersTable = `
CREATE TABLE callers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    address     TEXT NOT NULL UNIQUE,
    token_hash  TEXT NOT NULL,
    totp_secret TEXT NOT NULL DEFAULT '',
    enabled     INTEGER NOT NULL DEFAULT 1,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	callersIndexes = `
CREATE INDEX idx_callers_enabled ON callers(enabled)`

	// id is the token id assigned by the registry, never reused
	certificatesTable = `
CREATE TABLE certificates (
    id                  INTEGER PRIMARY KEY,
    owner               TEXT NOT NULL,
    metadata_uri        TEXT NOT NULL,
    holder_name         TEXT NOT NULL,
    credential_id       TEXT NOT NULL,
    title               TEXT NOT NULL,
    issuing_body        TEXT NOT NULL,
    issued_at           INTEGER NOT NULL,
    completed_at        INTEGER NOT NULL,
    hours               INTEGER NOT NULL,
    location            TEXT NOT NULL DEFAULT '',
    delivery_method     TEXT NOT NULL DEFAULT '',
    field_of_study      TEXT NOT NULL DEFAULT '',
    sponsor_id          TEXT NOT NULL DEFAULT '',
    registration_number TEXT NOT NULL DEFAULT '',
    minted_at           INTEGER NOT NULL
)`

	certificatesIndexes = `
CREATE INDEX idx_certs_owner ON certificates(owner, id);
CREATE INDEX idx_certs_credential_id ON certificates(credential_id)`

	transferEventsTable = `
CREATE TABLE transfer_events (
    seq          INTEGER PRIMARY KEY,
    from_address TEXT NOT NULL,
    to_address   TEXT NOT NULL,
    token_id     INTEGER NOT NULL,
    at           INTEGER NOT NULL,

    FOREIGN KEY (token_id) REFERENCES certificates(id)
)`

	transferEventsIndexes = `
CREATE INDEX idx_events_to ON transfer_events(to_address);
CREATE INDEX idx_events_token ON transfer_events(token_id)`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    action      TEXT NOT NULL,
    caller      TEXT,
    client_ip   TEXT NOT NULL,
    user_agent  TEXT,
    success     INTEGER NOT NULL,
    error_msg   TEXT,
    details     TEXT
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_caller ON audit_logs(caller);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)
