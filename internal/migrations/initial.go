package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all migrations for the portal schema.
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_initial_tables",
			Up: func(db *sql.DB) error {
				// Create instances table. user_id is unique: each user
				// holds at most one instance.
				_, err := db.Exec(`
					CREATE TABLE IF NOT EXISTS instances (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						user_id TEXT NOT NULL UNIQUE,
						provider_id TEXT NOT NULL,
						type TEXT NOT NULL,
						status TEXT NOT NULL,
						public_ip TEXT NOT NULL DEFAULT '',
						private_ip TEXT NOT NULL DEFAULT '',
						key_pair_name TEXT NOT NULL DEFAULT '',
						access_group_id TEXT NOT NULL DEFAULT '',
						alarm_name TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						launched_at DATETIME,
						stopped_at DATETIME
					)
				`)
				if err != nil {
					return err
				}

				// Create usage_intervals table. Rows are removed only via
				// the owning instance's cascade delete.
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS usage_intervals (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						instance_id INTEGER NOT NULL,
						started_at DATETIME NOT NULL,
						stopped_at DATETIME,
						duration_minutes INTEGER,
						FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
					)
				`)
				if err != nil {
					return err
				}

				// Create instance_configs table (per-user entitlement).
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS instance_configs (
						user_id TEXT PRIMARY KEY,
						quota INTEGER NOT NULL DEFAULT 0,
						type TEXT NOT NULL
					)
				`)
				if err != nil {
					return err
				}

				// Create allowed_sources table (management-port allow list).
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS allowed_sources (
						id TEXT PRIMARY KEY,
						user_id TEXT NOT NULL,
						address TEXT NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (user_id, address)
					)
				`)
				if err != nil {
					return err
				}

				// Create instance_keys table (downloadable private key
				// material, one row per instance).
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS instance_keys (
						instance_id INTEGER PRIMARY KEY,
						key_pair_name TEXT NOT NULL,
						private_key TEXT NOT NULL,
						fingerprint TEXT NOT NULL DEFAULT '',
						FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
					)
				`)
				if err != nil {
					return err
				}

				// Indexes for the common lookups
				_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_intervals_instance_id ON usage_intervals(instance_id)`)
				if err != nil {
					return err
				}

				_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_allowed_sources_user_id ON allowed_sources(user_id)`)
				return err
			},
			Down: func(db *sql.DB) error {
				// Drop tables in reverse order due to foreign key constraints
				for _, stmt := range []string{
					`DROP TABLE IF EXISTS instance_keys`,
					`DROP TABLE IF EXISTS allowed_sources`,
					`DROP TABLE IF EXISTS instance_configs`,
					`DROP TABLE IF EXISTS usage_intervals`,
					`DROP TABLE IF EXISTS instances`,
				} {
					if _, err := db.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
