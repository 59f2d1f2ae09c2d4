package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jbweber/homelab/perch/internal/domain"
)

// AllowedSourceRepository stores the per-user management-port allow list.
type AllowedSourceRepository interface {
	Repository[domain.AllowedSource, string]

	// FindByUserID returns a user's allowed sources, oldest first.
	FindByUserID(ctx context.Context, userID string) ([]domain.AllowedSource, error)

	// CountByUserID returns how many sources a user has registered.
	CountByUserID(ctx context.Context, userID string) (int, error)

	// DeleteByUserID removes all of a user's allowed sources.
	DeleteByUserID(ctx context.Context, userID string) error
}

// allowedSourceRepositoryImpl implements AllowedSourceRepository
type allowedSourceRepositoryImpl struct {
	db *sql.DB
}

// NewAllowedSourceRepository creates a new allowed source repository
func NewAllowedSourceRepository(db *sql.DB) AllowedSourceRepository {
	return &allowedSourceRepositoryImpl{
		db: db,
	}
}

// Save creates a new allowed source, assigning a random ID if none is set
func (r *allowedSourceRepositoryImpl) Save(ctx context.Context, entity domain.AllowedSource) (domain.AllowedSource, error) {
	if entity.UserID == "" {
		return domain.AllowedSource{}, fmt.Errorf("allowed source user ID is required: %w", ErrInvalidEntity)
	}
	if entity.Address == "" {
		return domain.AllowedSource{}, fmt.Errorf("allowed source address is required: %w", ErrInvalidEntity)
	}
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO allowed_sources (id, user_id, address, created_at) VALUES (?, ?, ?, ?)",
		entity.ID, entity.UserID, entity.Address, entity.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.AllowedSource{}, fmt.Errorf("address %s already registered for user %s: %w", entity.Address, entity.UserID, ErrDuplicate)
		}
		return domain.AllowedSource{}, fmt.Errorf("failed to create allowed source: %w", err)
	}
	return entity, nil
}

// FindByID retrieves an allowed source by its ID
func (r *allowedSourceRepositoryImpl) FindByID(ctx context.Context, id string) (domain.AllowedSource, error) {
	var s domain.AllowedSource
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, address, created_at FROM allowed_sources WHERE id = ?", id).
		Scan(&s.ID, &s.UserID, &s.Address, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.AllowedSource{}, fmt.Errorf("allowed source %s: %w", id, ErrNotFound)
		}
		return domain.AllowedSource{}, fmt.Errorf("failed to find allowed source: %w", err)
	}
	return s, nil
}

// FindAll retrieves all allowed sources
func (r *allowedSourceRepositoryImpl) FindAll(ctx context.Context) ([]domain.AllowedSource, error) {
	return r.query(ctx, "SELECT id, user_id, address, created_at FROM allowed_sources ORDER BY created_at ASC")
}

// DeleteByID deletes an allowed source by its ID
func (r *allowedSourceRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM allowed_sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete allowed source: %w", err)
	}
	return nil
}

// ExistsByID checks if an allowed source exists by its ID
func (r *allowedSourceRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM allowed_sources WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check allowed source existence: %w", err)
	}
	return count > 0, nil
}

// FindByUserID retrieves a user's allowed sources, oldest first
func (r *allowedSourceRepositoryImpl) FindByUserID(ctx context.Context, userID string) ([]domain.AllowedSource, error) {
	return r.query(ctx,
		"SELECT id, user_id, address, created_at FROM allowed_sources WHERE user_id = ? ORDER BY created_at ASC",
		userID)
}

// CountByUserID counts a user's allowed sources
func (r *allowedSourceRepositoryImpl) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM allowed_sources WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count allowed sources: %w", err)
	}
	return count, nil
}

// DeleteByUserID removes all of a user's allowed sources
func (r *allowedSourceRepositoryImpl) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM allowed_sources WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete allowed sources for user: %w", err)
	}
	return nil
}

func (r *allowedSourceRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.AllowedSource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allowed sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.AllowedSource
	for rows.Next() {
		var s domain.AllowedSource
		if err := rows.Scan(&s.ID, &s.UserID, &s.Address, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allowed source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
