package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jbweber/homelab/perch/internal/cloud"
	"github.com/jbweber/homelab/perch/internal/cloud/cloudtest"
	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, testName string) (*Service, *cloudtest.FakeProvider) {
	t.Helper()
	db := testutil.SetupTestDB(t, testName)
	fake := cloudtest.NewFakeProvider()
	svc := NewService(db, fake, "perch")
	svc.stopWait = cloud.WaitPolicy{Attempts: 3, Interval: 0}
	return svc, fake
}

func seedInstance(t *testing.T, svc *Service, fake *cloudtest.FakeProvider, userID string, status domain.InstanceStatus) domain.Instance {
	t.Helper()
	ctx := context.Background()
	instance, err := svc.instances.Save(ctx, domain.Instance{
		UserID:        userID,
		ProviderID:    "i-" + userID,
		Type:          "t3.small",
		Status:        status,
		KeyPairName:   "perch-key-" + userID,
		AccessGroupID: "sg-" + userID,
		AlarmName:     "perch-autostop-i-" + userID,
		CreatedAt:     svc.now(),
	})
	require.NoError(t, err)
	fake.SetInstanceState(instance.ProviderID, providerState(status), "")
	return instance
}

func providerState(status domain.InstanceStatus) string {
	switch status {
	case domain.StatusRunning:
		return "running"
	case domain.StatusStopping:
		return "stopping"
	case domain.StatusStopped:
		return "stopped"
	case domain.StatusTerminated:
		return "terminated"
	default:
		return "pending"
	}
}

func TestStart_FromStopped(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_FromStopped")
	ctx := context.Background()

	startTime := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return startTime }
	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopped)

	started, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, started.Status)
	assert.Equal(t, []string{instance.ProviderID}, fake.StartCalls)

	open, err := svc.intervals.FindOpenByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.StartedAt.Equal(startTime))
}

func TestStart_FromStoppingWaitsForStop(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_FromStoppingWaitsForStop")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopping)
	// The in-flight stop has already landed on the provider side
	fake.SetInstanceState(instance.ProviderID, "stopped", "")

	started, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, started.Status)
}

func TestStart_FromStoppingProceedsWhenWaitExhausted(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_FromStoppingProceedsWhenWaitExhausted")
	ctx := context.Background()

	// The provider never leaves "stopping"; the bounded wait runs out and
	// the start command is sent anyway instead of failing the request.
	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopping)
	fake.SetInstanceState(instance.ProviderID, "stopping", "")

	started, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, started.Status)
	assert.Equal(t, []string{instance.ProviderID}, fake.StartCalls)
}

func TestStart_FromStoppingProceedsOnDescribeFailure(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_FromStoppingProceedsOnDescribeFailure")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopping)
	fake.DescribeInstanceErr = errors.New("api throttled")

	started, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, started.Status)
	assert.Equal(t, []string{instance.ProviderID}, fake.StartCalls)
}

func TestStart_InvalidStates(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_InvalidStates")
	ctx := context.Background()

	seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	_, err := svc.Start(ctx, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Start(ctx, "nobody")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestStart_RepeatedDoesNotDoubleOpenLedger(t *testing.T) {
	svc, fake := newTestService(t, "TestStart_RepeatedDoesNotDoubleOpenLedger")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopped)
	_, err := svc.Start(ctx, "alice")
	require.NoError(t, err)

	// Force the status back as if the provider were slow, then start again
	instance.Status = domain.StatusStopped
	_, err = svc.instances.Save(ctx, instance)
	require.NoError(t, err)
	_, err = svc.Start(ctx, "alice")
	require.NoError(t, err)

	intervals, err := svc.intervals.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}

func TestStop_ClosesLedgerInterval(t *testing.T) {
	svc, fake := newTestService(t, "TestStop_ClosesLedgerInterval")
	ctx := context.Background()

	startTime := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return startTime }
	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	_, err := svc.intervals.Open(ctx, instance.ID, startTime)
	require.NoError(t, err)

	// Stop 47 minutes later
	svc.now = func() time.Time { return startTime.Add(47 * time.Minute) }
	stopped, err := svc.Stop(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopping, stopped.Status)
	assert.Equal(t, []string{instance.ProviderID}, fake.StopCalls)

	intervals, err := svc.intervals.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.NotNil(t, intervals[0].DurationMinutes)
	assert.Equal(t, int64(47), *intervals[0].DurationMinutes)
}

func TestStop_AllowedFromPendingAndStarting(t *testing.T) {
	svc, fake := newTestService(t, "TestStop_AllowedFromPendingAndStarting")
	ctx := context.Background()

	seedInstance(t, svc, fake, "alice", domain.StatusPending)
	stopped, err := svc.Stop(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopping, stopped.Status)

	seedInstance(t, svc, fake, "bob", domain.StatusStarting)
	stopped, err = svc.Stop(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopping, stopped.Status)
}

func TestStop_InvalidStates(t *testing.T) {
	svc, fake := newTestService(t, "TestStop_InvalidStates")
	ctx := context.Background()

	seedInstance(t, svc, fake, "alice", domain.StatusStopped)
	_, err := svc.Stop(ctx, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	seedInstance(t, svc, fake, "bob", domain.StatusStopping)
	_, err = svc.AdminStop(ctx, "bob")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReconcile_FirstRunningTransition(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_FirstRunningTransition")
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	instance := seedInstance(t, svc, fake, "alice", domain.StatusPending)
	fake.SetInstanceState(instance.ProviderID, "running", "203.0.113.7")

	reconciled, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, reconciled.Status)
	assert.Equal(t, "203.0.113.7", reconciled.PublicIP)
	require.NotNil(t, reconciled.LaunchedAt)
	assert.True(t, reconciled.LaunchedAt.Equal(now))

	open, err := svc.intervals.FindOpenByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_IsIdempotent")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusPending)
	fake.SetInstanceState(instance.ProviderID, "running", "203.0.113.7")

	first, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	second, err := svc.Reconcile(ctx, first)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	intervals, err := svc.intervals.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}

func TestReconcile_ProviderInitiatedStop(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_ProviderInitiatedStop")
	ctx := context.Background()

	startTime := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	_, err := svc.intervals.Open(ctx, instance.ID, startTime)
	require.NoError(t, err)

	// The auto-stop alarm fired provider-side
	svc.now = func() time.Time { return startTime.Add(2 * time.Hour) }
	fake.SetInstanceState(instance.ProviderID, "stopped", "")

	reconciled, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, reconciled.Status)
	require.NotNil(t, reconciled.StoppedAt)

	open, err := svc.intervals.FindOpenByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	// The reconcile-driven close records the run time like a user stop
	intervals, err := svc.intervals.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.NotNil(t, intervals[0].DurationMinutes)
	assert.Equal(t, int64(120), *intervals[0].DurationMinutes)
}

func TestReconcile_SwallowsProviderErrors(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_SwallowsProviderErrors")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	fake.DescribeInstanceErr = errors.New("api throttled")

	reconciled, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, reconciled.Status)
}

func TestReconcile_UnknownStateRetainsLocal(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_UnknownStateRetainsLocal")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	fake.SetInstanceState(instance.ProviderID, "rebooting-maybe", "")

	reconciled, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, reconciled.Status)
}

func TestReconcile_VanishedResourceMarksFailed(t *testing.T) {
	svc, fake := newTestService(t, "TestReconcile_VanishedResourceMarksFailed")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	delete(fake.Instances, instance.ProviderID)

	reconciled, err := svc.Reconcile(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, reconciled.Status)
}

func TestReclaim_RemovesEverything(t *testing.T) {
	svc, fake := newTestService(t, "TestReclaim_RemovesEverything")
	ctx := context.Background()

	instance := seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	_, err := svc.intervals.Open(ctx, instance.ID, svc.now())
	require.NoError(t, err)
	_, err = svc.sources.Save(ctx, domain.AllowedSource{
		UserID: "alice", Address: "198.51.100.1", CreatedAt: svc.now(),
	})
	require.NoError(t, err)
	_, err = svc.keys.Save(ctx, domain.InstanceKey{
		InstanceID: instance.ID, KeyPairName: instance.KeyPairName, PrivateKey: "material",
	})
	require.NoError(t, err)

	err = svc.Reclaim(ctx, "alice")
	require.NoError(t, err)

	// Local record and everything hanging off it is gone
	_, err = svc.findInstance(ctx, "alice")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	count, err := svc.sources.CountByUserID(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
	intervals, err := svc.intervals.FindByInstanceID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Empty(t, intervals)

	// Stopped but never terminated
	assert.Equal(t, []string{instance.ProviderID}, fake.StopCalls)
	assert.Empty(t, fake.Terminated)
}

func TestReclaim_SurvivesProviderFailures(t *testing.T) {
	svc, fake := newTestService(t, "TestReclaim_SurvivesProviderFailures")
	ctx := context.Background()

	seedInstance(t, svc, fake, "alice", domain.StatusRunning)
	fake.StopInstanceErr = errors.New("stop refused")
	fake.DeleteAccessGroupErr = errors.New("group still attached")
	fake.DeleteAlarmErr = errors.New("alarm api down")

	// Cleanup failures are follow-up work, not reclaim failures
	err := svc.Reclaim(ctx, "alice")
	require.NoError(t, err)

	_, err = svc.findInstance(ctx, "alice")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestReclaim_SkipsStopWhenAlreadyStopped(t *testing.T) {
	svc, fake := newTestService(t, "TestReclaim_SkipsStopWhenAlreadyStopped")
	ctx := context.Background()

	seedInstance(t, svc, fake, "alice", domain.StatusStopped)
	err := svc.Reclaim(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, fake.StopCalls)
}

func TestSetConfig(t *testing.T) {
	svc, fake := newTestService(t, "TestSetConfig")
	ctx := context.Background()

	saved, err := svc.SetConfig(ctx, domain.InstanceConfig{UserID: "alice", Quota: 1, Type: "t3.small"})
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Quota)

	_, err = svc.SetConfig(ctx, domain.InstanceConfig{UserID: "alice", Quota: 1, Type: "m5.mystery"})
	assert.ErrorIs(t, err, ErrUnknownType)
	// The rejection names the valid choices
	assert.Contains(t, err.Error(), "t3.small")
	assert.Contains(t, err.Error(), "r6i.4xlarge")

	// Type is pinned while an instance exists
	seedInstance(t, svc, fake, "alice", domain.StatusStopped)
	_, err = svc.SetConfig(ctx, domain.InstanceConfig{UserID: "alice", Quota: 1, Type: "r6i.4xlarge"})
	assert.ErrorIs(t, err, ErrTypeImmutable)

	// Quota changes with the same type are fine
	saved, err = svc.SetConfig(ctx, domain.InstanceConfig{UserID: "alice", Quota: 0, Type: "t3.small"})
	require.NoError(t, err)
	assert.Equal(t, 0, saved.Quota)
}

func TestGetCost(t *testing.T) {
	svc, fake := newTestService(t, "TestGetCost")
	ctx := context.Background()

	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	instance := seedInstance(t, svc, fake, "alice", domain.StatusStopped)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := svc.intervals.Open(ctx, instance.ID, start)
	require.NoError(t, err)
	err = svc.intervals.Close(ctx, instance.ID, start.Add(3*time.Hour))
	require.NoError(t, err)

	report, err := svc.GetCost(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(180), report.Minutes)
	assert.Equal(t, 2.4, report.StorageCost)
	assert.Equal(t, 2.46, report.TotalCost)

	_, err = svc.GetCost(ctx, "nobody")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestGetInstanceIncludesConfigAndReconciles(t *testing.T) {
	svc, fake := newTestService(t, "TestGetInstanceIncludesConfigAndReconciles")
	ctx := context.Background()

	_, err := svc.configs.Save(ctx, domain.InstanceConfig{UserID: "alice", Quota: 1, Type: "t3.small"})
	require.NoError(t, err)
	instance := seedInstance(t, svc, fake, "alice", domain.StatusPending)
	fake.SetInstanceState(instance.ProviderID, "running", "203.0.113.7")

	got, config, err := svc.GetInstance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, 1, config.Quota)

	// No instance still reports the entitlement
	_, config, err = svc.GetInstance(ctx, "bob")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.Equal(t, 0, config.Quota)
}
