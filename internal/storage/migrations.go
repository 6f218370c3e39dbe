package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions and categories",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					color TEXT NOT NULL DEFAULT '',
					is_income INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					merchant_name TEXT NOT NULL DEFAULT '',
					amount REAL NOT NULL,
					account_id TEXT NOT NULL,
					category_id INTEGER REFERENCES categories(id),
					tags TEXT NOT NULL DEFAULT '[]',
					income_override INTEGER,
					exclude_from_totals INTEGER NOT NULL DEFAULT 0,
					category_locked INTEGER NOT NULL DEFAULT 0,
					tags_locked INTEGER NOT NULL DEFAULT 0,
					merchant_locked INTEGER NOT NULL DEFAULT 0,
					category_set_by INTEGER,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_account ON transactions(account_id)`,
				`CREATE INDEX idx_transactions_category ON transactions(category_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Rule sets and rules",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS rule_sets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					state TEXT NOT NULL DEFAULT 'draft',
					cloned_from INTEGER,
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					activated_at DATETIME
				)`,
				// The schema itself enforces the single-active invariant;
				// the manager still checks defensively on every activation.
				`CREATE UNIQUE INDEX idx_rule_sets_single_active
					ON rule_sets(state) WHERE state = 'active'`,

				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rule_set_id INTEGER NOT NULL REFERENCES rule_sets(id),
					name TEXT NOT NULL,
					desc_operator TEXT,
					desc_value TEXT,
					desc_case_sensitive INTEGER NOT NULL DEFAULT 0,
					desc_semantics TEXT,
					merch_operator TEXT,
					merch_value TEXT,
					merch_case_sensitive INTEGER NOT NULL DEFAULT 0,
					merch_semantics TEXT,
					amount_exact REAL,
					amount_min REAL,
					amount_max REAL,
					sign TEXT NOT NULL DEFAULT 'any',
					account_ids TEXT NOT NULL DEFAULT '[]',
					date_from DATETIME,
					date_to DATETIME,
					has_category_action INTEGER NOT NULL DEFAULT 0,
					set_category_id INTEGER,
					tag_mode TEXT,
					tag_values TEXT,
					has_merchant_action INTEGER NOT NULL DEFAULT 0,
					set_merchant TEXT,
					set_income INTEGER,
					set_exclude INTEGER,
					priority INTEGER NOT NULL DEFAULT 0,
					enabled INTEGER NOT NULL DEFAULT 1,
					stop_processing INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL DEFAULT 'manual',
					confidence REAL NOT NULL DEFAULT 0,
					tier TEXT NOT NULL DEFAULT 'generated_curated',
					origin TEXT NOT NULL DEFAULT '',
					use_count INTEGER NOT NULL DEFAULT 0,
					override_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rules_set ON rules(rule_set_id)`,
				`CREATE INDEX idx_rules_origin ON rules(origin)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Legacy rule tables kept for the read-time bridge",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS legacy_keyword_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					keyword TEXT NOT NULL,
					category_id INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS legacy_tag_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					keyword TEXT NOT NULL,
					tags TEXT NOT NULL DEFAULT '[]'
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Learned suggestions and audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS suggestions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					merchant_pattern TEXT NOT NULL,
					category_id INTEGER NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					consistency REAL NOT NULL DEFAULT 0,
					sample_count INTEGER NOT NULL DEFAULT 0,
					sample_txn_ids TEXT NOT NULL DEFAULT '[]',
					state TEXT NOT NULL DEFAULT 'pending',
					origin TEXT NOT NULL DEFAULT 'miner',
					reason TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_suggestions_run ON suggestions(run_id)`,
				`CREATE INDEX idx_suggestions_state ON suggestions(state)`,

				`CREATE TABLE IF NOT EXISTS audit_log (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					detail TEXT NOT NULL,
					rule_id INTEGER,
					rule_set_id INTEGER,
					run_id TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w",
					migration.Version, migration.Description, err)
			}
			if _, err := tx.Exec(
				"INSERT INTO schema_migrations (version) VALUES (?)",
				migration.Version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		slog.Info("applied migration",
			"version", migration.Version, "description", migration.Description)
	}

	return nil
}
