package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/perch/internal/domain"
)

// InstanceKeyRepository stores private key material, keyed by instance ID.
// Rows are written once at provisioning time and removed by the instance
// cascade delete, so there is no update path.
type InstanceKeyRepository interface {
	Repository[domain.InstanceKey, int64]
}

// instanceKeyRepositoryImpl implements InstanceKeyRepository
type instanceKeyRepositoryImpl struct {
	db *sql.DB
}

// NewInstanceKeyRepository creates a new instance key repository
func NewInstanceKeyRepository(db *sql.DB) InstanceKeyRepository {
	return &instanceKeyRepositoryImpl{
		db: db,
	}
}

// Save upserts the key material for an instance
func (r *instanceKeyRepositoryImpl) Save(ctx context.Context, entity domain.InstanceKey) (domain.InstanceKey, error) {
	if entity.InstanceID == 0 {
		return domain.InstanceKey{}, fmt.Errorf("instance key instance ID is required: %w", ErrInvalidEntity)
	}
	if entity.PrivateKey == "" {
		return domain.InstanceKey{}, fmt.Errorf("instance key material is required: %w", ErrInvalidEntity)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instance_keys (instance_id, key_pair_name, private_key, fingerprint) VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET key_pair_name = excluded.key_pair_name,
			private_key = excluded.private_key, fingerprint = excluded.fingerprint`,
		entity.InstanceID, entity.KeyPairName, entity.PrivateKey, entity.Fingerprint)
	if err != nil {
		return domain.InstanceKey{}, fmt.Errorf("failed to save instance key: %w", err)
	}
	return entity, nil
}

// FindByID retrieves the key material for an instance
func (r *instanceKeyRepositoryImpl) FindByID(ctx context.Context, instanceID int64) (domain.InstanceKey, error) {
	var k domain.InstanceKey
	err := r.db.QueryRowContext(ctx,
		"SELECT instance_id, key_pair_name, private_key, fingerprint FROM instance_keys WHERE instance_id = ?", instanceID).
		Scan(&k.InstanceID, &k.KeyPairName, &k.PrivateKey, &k.Fingerprint)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.InstanceKey{}, fmt.Errorf("key for instance %d: %w", instanceID, ErrNotFound)
		}
		return domain.InstanceKey{}, fmt.Errorf("failed to find instance key: %w", err)
	}
	return k, nil
}

// FindAll retrieves all instance keys
func (r *instanceKeyRepositoryImpl) FindAll(ctx context.Context) ([]domain.InstanceKey, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT instance_id, key_pair_name, private_key, fingerprint FROM instance_keys ORDER BY instance_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list instance keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.InstanceKey
	for rows.Next() {
		var k domain.InstanceKey
		if err := rows.Scan(&k.InstanceID, &k.KeyPairName, &k.PrivateKey, &k.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan instance key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteByID deletes the key material for an instance
func (r *instanceKeyRepositoryImpl) DeleteByID(ctx context.Context, instanceID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM instance_keys WHERE instance_id = ?", instanceID)
	if err != nil {
		return fmt.Errorf("failed to delete instance key: %w", err)
	}
	return nil
}

// ExistsByID checks if key material exists for an instance
func (r *instanceKeyRepositoryImpl) ExistsByID(ctx context.Context, instanceID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instance_keys WHERE instance_id = ?", instanceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check instance key existence: %w", err)
	}
	return count > 0, nil
}
