package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbweber/homelab/perch/internal/migrations"
	_ "modernc.org/sqlite"
)

// Config holds all configuration for the perch service
type Config struct {
	DBPath string
	Port   string

	// Provider settings
	Region      string
	VPCID       string
	SubnetID    string
	ImageID     string
	ProjectName string
}

// NewConfig creates a new Config with default values, overridable from the
// environment (PERCH_DB_PATH, PERCH_PORT, PERCH_REGION, PERCH_VPC_ID,
// PERCH_SUBNET_ID, PERCH_IMAGE_ID, PERCH_PROJECT).
func NewConfig() *Config {
	c := &Config{
		DBPath:      "~/perch/data/perch.db",
		Port:        "8080",
		Region:      "us-east-1",
		ProjectName: "perch",
	}
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	for env, target := range map[string]*string{
		"PERCH_DB_PATH":   &c.DBPath,
		"PERCH_PORT":      &c.Port,
		"PERCH_REGION":    &c.Region,
		"PERCH_VPC_ID":    &c.VPCID,
		"PERCH_SUBNET_ID": &c.SubnetID,
		"PERCH_IMAGE_ID":  &c.ImageID,
		"PERCH_PROJECT":   &c.ProjectName,
	} {
		if value := os.Getenv(env); value != "" {
			*target = value
		}
	}
}

// ValidateProvider checks the settings a live provider connection needs.
func (c *Config) ValidateProvider() error {
	var missing []string
	for name, value := range map[string]string{
		"PERCH_VPC_ID":    c.VPCID,
		"PERCH_SUBNET_ID": c.SubnetID,
		"PERCH_IMAGE_ID":  c.ImageID,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Foreign keys are enforced per connection in SQLite, so the pragma
	// rides on the DSN and applies to every connection the pool opens.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}

	// Run migrations
	if err := c.runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)

	for _, migration := range migrations.GetInitialMigrations() {
		migrator.AddMigration(migration)
	}

	return migrator.RunMigrations()
}
