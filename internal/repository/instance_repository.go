package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jbweber/homelab/perch/internal/domain"
)

const instanceColumns = `id, user_id, provider_id, type, status, public_ip, private_ip,
	key_pair_name, access_group_id, alarm_name, created_at, launched_at, stopped_at`

// InstanceRepository extends the generic Repository with instance-specific operations
type InstanceRepository interface {
	Repository[domain.Instance, int64]

	// Domain-specific operations
	FindByUserID(ctx context.Context, userID string) (domain.Instance, error)
	ExistsByUserID(ctx context.Context, userID string) (bool, error)
}

// instanceRepositoryImpl implements InstanceRepository
type instanceRepositoryImpl struct {
	db *sql.DB
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB) InstanceRepository {
	return &instanceRepositoryImpl{
		db: db,
	}
}

func scanInstance(row interface{ Scan(...any) error }) (domain.Instance, error) {
	var i domain.Instance
	var launchedAt, stoppedAt sql.NullTime
	err := row.Scan(&i.ID, &i.UserID, &i.ProviderID, &i.Type, &i.Status, &i.PublicIP, &i.PrivateIP,
		&i.KeyPairName, &i.AccessGroupID, &i.AlarmName, &i.CreatedAt, &launchedAt, &stoppedAt)
	if err != nil {
		return domain.Instance{}, err
	}
	if launchedAt.Valid {
		i.LaunchedAt = &launchedAt.Time
	}
	if stoppedAt.Valid {
		i.StoppedAt = &stoppedAt.Time
	}
	return i, nil
}

// timeOrNil converts an optional timestamp for storage, keeping NULLs NULL.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Save creates or updates an instance
func (r *instanceRepositoryImpl) Save(ctx context.Context, entity domain.Instance) (domain.Instance, error) {
	if entity.UserID == "" {
		return domain.Instance{}, fmt.Errorf("instance user ID is required: %w", ErrInvalidEntity)
	}

	if entity.ID == 0 {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO instances (user_id, provider_id, type, status, public_ip, private_ip,
				key_pair_name, access_group_id, alarm_name, created_at, launched_at, stopped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entity.UserID, entity.ProviderID, entity.Type, entity.Status, entity.PublicIP, entity.PrivateIP,
			entity.KeyPairName, entity.AccessGroupID, entity.AlarmName, entity.CreatedAt,
			timeOrNil(entity.LaunchedAt), timeOrNil(entity.StoppedAt))
		if err != nil {
			return domain.Instance{}, fmt.Errorf("failed to create instance: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Instance{}, fmt.Errorf("failed to get last insert ID: %w", err)
		}
		entity.ID = id
		return entity, nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE instances SET provider_id = ?, type = ?, status = ?, public_ip = ?, private_ip = ?,
			key_pair_name = ?, access_group_id = ?, alarm_name = ?, launched_at = ?, stopped_at = ?
		WHERE id = ?`,
		entity.ProviderID, entity.Type, entity.Status, entity.PublicIP, entity.PrivateIP,
		entity.KeyPairName, entity.AccessGroupID, entity.AlarmName,
		timeOrNil(entity.LaunchedAt), timeOrNil(entity.StoppedAt), entity.ID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("failed to update instance: %w", err)
	}
	return entity, nil
}

// FindByID retrieves an instance by its ID
func (r *instanceRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ?", id)
	instance, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Instance{}, fmt.Errorf("instance with ID %d: %w", id, ErrNotFound)
		}
		return domain.Instance{}, fmt.Errorf("failed to find instance: %w", err)
	}
	return instance, nil
}

// FindAll retrieves all instances
func (r *instanceRepositoryImpl) FindAll(ctx context.Context) ([]domain.Instance, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+instanceColumns+" FROM instances ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// DeleteByID deletes an instance by its ID. Ledger entries and key material
// are removed by the foreign key cascade.
func (r *instanceRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// ExistsByID checks if an instance exists by its ID
func (r *instanceRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instances WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check instance existence: %w", err)
	}
	return count > 0, nil
}

// FindByUserID retrieves the instance owned by a user
func (r *instanceRepositoryImpl) FindByUserID(ctx context.Context, userID string) (domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM instances WHERE user_id = ?", userID)
	instance, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Instance{}, fmt.Errorf("instance for user %s: %w", userID, ErrNotFound)
		}
		return domain.Instance{}, fmt.Errorf("failed to find instance by user: %w", err)
	}
	return instance, nil
}

// ExistsByUserID checks if a user already holds an instance
func (r *instanceRepositoryImpl) ExistsByUserID(ctx context.Context, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instances WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check instance existence for user: %w", err)
	}
	return count > 0, nil
}
