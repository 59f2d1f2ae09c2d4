package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jbweber/homelab/perch/internal/domain"
)

// UsageIntervalRepository is the append-only run-interval ledger. Intervals
// are opened when an instance transitions into the running state and closed
// when it transitions out; they are never edited otherwise. Rows disappear
// only via the owning instance's cascade delete.
type UsageIntervalRepository interface {
	Repository[domain.UsageInterval, int64]

	// Open starts a new interval at the given time. If an open interval
	// already exists for the instance it is returned unchanged, so repeated
	// or racing start requests never double-count run time.
	Open(ctx context.Context, instanceID int64, at time.Time) (domain.UsageInterval, error)

	// Close ends the most-recently-started open interval at the given time,
	// recording its duration in whole minutes. No-op if nothing is open.
	Close(ctx context.Context, instanceID int64, at time.Time) error

	FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.UsageInterval, error)
	FindOpenByInstanceID(ctx context.Context, instanceID int64) (*domain.UsageInterval, error)
}

// usageIntervalRepositoryImpl implements UsageIntervalRepository
type usageIntervalRepositoryImpl struct {
	db *sql.DB
}

// NewUsageIntervalRepository creates a new usage interval repository
func NewUsageIntervalRepository(db *sql.DB) UsageIntervalRepository {
	return &usageIntervalRepositoryImpl{
		db: db,
	}
}

func scanInterval(row interface{ Scan(...any) error }) (domain.UsageInterval, error) {
	var iv domain.UsageInterval
	var stoppedAt sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(&iv.ID, &iv.InstanceID, &iv.StartedAt, &stoppedAt, &duration)
	if err != nil {
		return domain.UsageInterval{}, err
	}
	if stoppedAt.Valid {
		iv.StoppedAt = &stoppedAt.Time
	}
	if duration.Valid {
		iv.DurationMinutes = &duration.Int64
	}
	return iv, nil
}

// Save creates a new interval. Existing intervals are only ever modified
// through Close, so updates are not supported here.
func (r *usageIntervalRepositoryImpl) Save(ctx context.Context, entity domain.UsageInterval) (domain.UsageInterval, error) {
	if entity.InstanceID == 0 {
		return domain.UsageInterval{}, fmt.Errorf("usage interval instance ID is required: %w", ErrInvalidEntity)
	}
	if entity.ID != 0 {
		return domain.UsageInterval{}, fmt.Errorf("usage intervals are closed, not updated: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO usage_intervals (instance_id, started_at, stopped_at, duration_minutes) VALUES (?, ?, ?, ?)",
		entity.InstanceID, entity.StartedAt, timeOrNil(entity.StoppedAt), int64OrNil(entity.DurationMinutes))
	if err != nil {
		return domain.UsageInterval{}, fmt.Errorf("failed to create usage interval: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.UsageInterval{}, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	entity.ID = id
	return entity, nil
}

// FindByID retrieves a usage interval by its ID
func (r *usageIntervalRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.UsageInterval, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, instance_id, started_at, stopped_at, duration_minutes FROM usage_intervals WHERE id = ?", id)
	interval, err := scanInterval(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.UsageInterval{}, fmt.Errorf("usage interval with ID %d: %w", id, ErrNotFound)
		}
		return domain.UsageInterval{}, fmt.Errorf("failed to find usage interval: %w", err)
	}
	return interval, nil
}

// FindAll retrieves all usage intervals
func (r *usageIntervalRepositoryImpl) FindAll(ctx context.Context) ([]domain.UsageInterval, error) {
	return r.query(ctx, "SELECT id, instance_id, started_at, stopped_at, duration_minutes FROM usage_intervals ORDER BY started_at ASC")
}

// DeleteByID is intentionally unsupported: individual ledger entries are
// never deleted, only the full set via the owning instance.
func (r *usageIntervalRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return fmt.Errorf("usage intervals cannot be deleted individually: %w", ErrInvalidEntity)
}

// ExistsByID checks if a usage interval exists by its ID
func (r *usageIntervalRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_intervals WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check usage interval existence: %w", err)
	}
	return count > 0, nil
}

// Open implements the at-most-one-open-interval guard.
func (r *usageIntervalRepositoryImpl) Open(ctx context.Context, instanceID int64, at time.Time) (domain.UsageInterval, error) {
	existing, err := r.FindOpenByInstanceID(ctx, instanceID)
	if err != nil {
		return domain.UsageInterval{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	return r.Save(ctx, domain.UsageInterval{
		InstanceID: instanceID,
		StartedAt:  at,
	})
}

// Close ends the open interval, if any.
func (r *usageIntervalRepositoryImpl) Close(ctx context.Context, instanceID int64, at time.Time) error {
	open, err := r.FindOpenByInstanceID(ctx, instanceID)
	if err != nil {
		return err
	}
	if open == nil {
		// Nothing running; repeated stop requests land here.
		return nil
	}

	minutes := int64(math.Round(at.Sub(open.StartedAt).Minutes()))
	if minutes < 0 {
		minutes = 0
	}

	_, err = r.db.ExecContext(ctx,
		"UPDATE usage_intervals SET stopped_at = ?, duration_minutes = ? WHERE id = ?",
		at, minutes, open.ID)
	if err != nil {
		return fmt.Errorf("failed to close usage interval %d: %w", open.ID, err)
	}
	return nil
}

// FindByInstanceID retrieves all intervals for an instance, oldest first
func (r *usageIntervalRepositoryImpl) FindByInstanceID(ctx context.Context, instanceID int64) ([]domain.UsageInterval, error) {
	return r.query(ctx,
		"SELECT id, instance_id, started_at, stopped_at, duration_minutes FROM usage_intervals WHERE instance_id = ? ORDER BY started_at ASC",
		instanceID)
}

// FindOpenByInstanceID returns the most-recently-started open interval for
// an instance, or nil when none is open. By invariant there is at most one.
func (r *usageIntervalRepositoryImpl) FindOpenByInstanceID(ctx context.Context, instanceID int64) (*domain.UsageInterval, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, instance_id, started_at, stopped_at, duration_minutes
		FROM usage_intervals
		WHERE instance_id = ? AND stopped_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1`, instanceID)
	interval, err := scanInterval(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open usage interval: %w", err)
	}
	return &interval, nil
}

func (r *usageIntervalRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.UsageInterval, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage intervals: %w", err)
	}
	defer rows.Close()

	var intervals []domain.UsageInterval
	for rows.Next() {
		interval, err := scanInterval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage interval: %w", err)
		}
		intervals = append(intervals, interval)
	}
	return intervals, rows.Err()
}

func int64OrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
