package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestInstance(t *testing.T, repo InstanceRepository, userID string) domain.Instance {
	t.Helper()
	saved, err := repo.Save(context.Background(), domain.Instance{
		UserID: userID, ProviderID: "i-" + userID, Type: "t3.small",
		Status: domain.StatusStopped, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return saved
}

func TestUsageIntervalRepository_OpenAndClose(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_OpenAndClose")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	opened, err := repo.Open(ctx, instance.ID, start)
	require.NoError(t, err)
	assert.NotZero(t, opened.ID)
	assert.Nil(t, opened.StoppedAt)

	// 47 minutes of run time
	err = repo.Close(ctx, instance.ID, start.Add(47*time.Minute))
	require.NoError(t, err)

	intervals, err := repo.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.NotNil(t, intervals[0].StoppedAt)
	require.NotNil(t, intervals[0].DurationMinutes)
	assert.Equal(t, int64(47), *intervals[0].DurationMinutes)
}

func TestUsageIntervalRepository_OpenIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_OpenIsIdempotent")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	first, err := repo.Open(ctx, instance.ID, start)
	require.NoError(t, err)

	// A second open while one is outstanding returns the existing interval
	second, err := repo.Open(ctx, instance.ID, start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.StartedAt.Equal(first.StartedAt))

	intervals, err := repo.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}

func TestUsageIntervalRepository_CloseWithoutOpenIsNoop(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_CloseWithoutOpenIsNoop")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	err := repo.Close(ctx, instance.ID, time.Now().UTC())
	require.NoError(t, err)

	intervals, err := repo.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Empty(t, intervals)
}

func TestUsageIntervalRepository_ReopenAfterClose(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_ReopenAfterClose")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := repo.Open(ctx, instance.ID, start)
	require.NoError(t, err)
	err = repo.Close(ctx, instance.ID, start.Add(30*time.Minute))
	require.NoError(t, err)

	// Starting again opens a fresh interval
	reopened, err := repo.Open(ctx, instance.ID, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, reopened.StoppedAt)

	intervals, err := repo.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 2)

	open, err := repo.FindOpenByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, reopened.ID, open.ID)
}

func TestUsageIntervalRepository_DurationRoundsToWholeMinutes(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_DurationRoundsToWholeMinutes")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := repo.Open(ctx, instance.ID, start)
	require.NoError(t, err)

	// 12m40s rounds to 13 minutes
	err = repo.Close(ctx, instance.ID, start.Add(12*time.Minute+40*time.Second))
	require.NoError(t, err)

	intervals, err := repo.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.NotNil(t, intervals[0].DurationMinutes)
	assert.Equal(t, int64(13), *intervals[0].DurationMinutes)
}

func TestUsageIntervalRepository_SaveRejectsUpdates(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_SaveRejectsUpdates")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)
	ctx := context.Background()

	opened, err := repo.Open(ctx, instance.ID, time.Now().UTC())
	require.NoError(t, err)

	_, err = repo.Save(ctx, opened)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	err = repo.DeleteByID(ctx, opened.ID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestUsageIntervalRepository_FindOpenWhenNoneExists(t *testing.T) {
	db := testutil.SetupTestDB(t, "TestUsageIntervalRepository_FindOpenWhenNoneExists")
	instance := createTestInstance(t, NewInstanceRepository(db), "alice")
	repo := NewUsageIntervalRepository(db)

	open, err := repo.FindOpenByInstanceID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}
