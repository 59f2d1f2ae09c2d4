package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/perch/internal/domain"
)

// InstanceConfigRepository stores per-user entitlements, keyed by user ID.
type InstanceConfigRepository interface {
	Repository[domain.InstanceConfig, string]

	// Get returns the entitlement for a user. Users with no stored config
	// get the zero entitlement (quota 0), which denies provisioning.
	Get(ctx context.Context, userID string) (domain.InstanceConfig, error)
}

// instanceConfigRepositoryImpl implements InstanceConfigRepository
type instanceConfigRepositoryImpl struct {
	db *sql.DB
}

// NewInstanceConfigRepository creates a new instance config repository
func NewInstanceConfigRepository(db *sql.DB) InstanceConfigRepository {
	return &instanceConfigRepositoryImpl{
		db: db,
	}
}

// Save upserts a user's entitlement
func (r *instanceConfigRepositoryImpl) Save(ctx context.Context, entity domain.InstanceConfig) (domain.InstanceConfig, error) {
	if entity.UserID == "" {
		return domain.InstanceConfig{}, fmt.Errorf("config user ID is required: %w", ErrInvalidEntity)
	}
	if entity.Quota < 0 || entity.Quota > 1 {
		return domain.InstanceConfig{}, fmt.Errorf("config quota must be 0 or 1: %w", ErrInvalidEntity)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instance_configs (user_id, quota, type) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET quota = excluded.quota, type = excluded.type`,
		entity.UserID, entity.Quota, entity.Type)
	if err != nil {
		return domain.InstanceConfig{}, fmt.Errorf("failed to save instance config: %w", err)
	}
	return entity, nil
}

// FindByID retrieves a config by user ID
func (r *instanceConfigRepositoryImpl) FindByID(ctx context.Context, userID string) (domain.InstanceConfig, error) {
	var c domain.InstanceConfig
	err := r.db.QueryRowContext(ctx,
		"SELECT user_id, quota, type FROM instance_configs WHERE user_id = ?", userID).
		Scan(&c.UserID, &c.Quota, &c.Type)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.InstanceConfig{}, fmt.Errorf("config for user %s: %w", userID, ErrNotFound)
		}
		return domain.InstanceConfig{}, fmt.Errorf("failed to find instance config: %w", err)
	}
	return c, nil
}

// FindAll retrieves all configs
func (r *instanceConfigRepositoryImpl) FindAll(ctx context.Context) ([]domain.InstanceConfig, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT user_id, quota, type FROM instance_configs ORDER BY user_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.InstanceConfig
	for rows.Next() {
		var c domain.InstanceConfig
		if err := rows.Scan(&c.UserID, &c.Quota, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan instance config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// DeleteByID deletes a config by user ID
func (r *instanceConfigRepositoryImpl) DeleteByID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM instance_configs WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete instance config: %w", err)
	}
	return nil
}

// ExistsByID checks if a config exists for a user
func (r *instanceConfigRepositoryImpl) ExistsByID(ctx context.Context, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instance_configs WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check instance config existence: %w", err)
	}
	return count > 0, nil
}

// Get returns the user's entitlement, defaulting to quota 0 when no
// administrator has granted one.
func (r *instanceConfigRepositoryImpl) Get(ctx context.Context, userID string) (domain.InstanceConfig, error) {
	config, err := r.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.InstanceConfig{UserID: userID, Quota: 0}, nil
		}
		return domain.InstanceConfig{}, err
	}
	return config, nil
}
